/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

// Error codes reported to clients alongside a human-readable message.
const (
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeState        = "state"
	CodeCapacity     = "capacity"
	CodeLedger       = "ledger"
)

// GameError is a recoverable, client-reportable error. Every rejected action
// produces one; nothing in the session layer panics on bad input.
type GameError struct {
	Code    string
	Message string
}

func (e *GameError) Error() string {
	return e.Code + ": " + e.Message
}

func errValidation(format string, args ...any) *GameError {
	return &GameError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...any) *GameError {
	return &GameError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func errUnauthorized(format string, args ...any) *GameError {
	return &GameError{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func errState(format string, args ...any) *GameError {
	return &GameError{Code: CodeState, Message: fmt.Sprintf(format, args...)}
}

func errCapacity(format string, args ...any) *GameError {
	return &GameError{Code: CodeCapacity, Message: fmt.Sprintf(format, args...)}
}

func errLedger(format string, args ...any) *GameError {
	return &GameError{Code: CodeLedger, Message: fmt.Sprintf(format, args...)}
}

// asGameError maps any error onto the client-facing taxonomy, wrapping
// unexpected ones as state errors so the client always gets a typed event.
func asGameError(err error) *GameError {
	var ge *GameError
	if errors.As(err, &ge) {
		return ge
	}
	return &GameError{Code: CodeState, Message: err.Error()}
}
