package main

import "time"

// Messages coming from clients over the websocket
type ClientMessage struct {
	Type   string `json:"type"`             // "join", "start", "guess", "chat", "leave"
	Name   string `json:"name,omitempty"`   // join
	Avatar string `json:"avatar,omitempty"` // join
	Text   string `json:"text,omitempty"`   // guess / chat
}

// PlayerInfo is the public view of a roster entry.
type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	IsHost    bool   `json:"is_host"`
	Score     int    `json:"score"`
	Connected bool   `json:"connected"`
}

// ChatEntry is a single chat line, append-only per session.
type ChatEntry struct {
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// GameSnapshot is the full state pushed on initial sync, lobby changes, and
// reconnect catch-up. The answer is only populated once the game has ended.
type GameSnapshot struct {
	Type          string       `json:"type"` // "game_state"
	GameID        string       `json:"game_id"`
	GameCode      string       `json:"game_code"`
	Mode          string       `json:"mode"`
	Topic         string       `json:"topic"`
	WordCount     int          `json:"word_count"`
	State         string       `json:"state"`
	Phase         int          `json:"phase,omitempty"`
	PhaseCount    int          `json:"phase_count"`
	RevealPercent float64      `json:"image_reveal"`
	TimeLeft      float64      `json:"time_left"` // seconds remaining in the current phase
	ImageRef      string       `json:"image_ref,omitempty"`
	Players       []PlayerInfo `json:"players"`
	PotAmount     string       `json:"pot_amount,omitempty"`
	Chat          []ChatEntry  `json:"chat,omitempty"`
	Answer        string       `json:"answer,omitempty"`
	WinnerID      string       `json:"winner_id,omitempty"`
	SystemError   bool         `json:"system_error,omitempty"`
}

// StartingMessage announces the lobby countdown.
type StartingMessage struct {
	Type      string  `json:"type"` // "game_starting"
	GameID    string  `json:"game_id"`
	Countdown float64 `json:"countdown"` // seconds until the first phase
}

// RevealMessage announces a phase transition.
type RevealMessage struct {
	Type          string  `json:"type"` // "reveal"
	Phase         int     `json:"phase"`
	RevealPercent float64 `json:"image_reveal"`
	TimeLeft      float64 `json:"time_left"`
}

// GuessResultMessage informs everyone about a guess outcome.
type GuessResultMessage struct {
	Type     string `json:"type"` // "guess_result"
	Correct  bool   `json:"correct"`
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Points   int    `json:"points,omitempty"`
	Phase    int    `json:"phase"`
}

// ChatBroadcastMessage carries a single appended chat line.
type ChatBroadcastMessage struct {
	Type string    `json:"type"` // "chat"
	Line ChatEntry `json:"line"`
}

// GameEndMessage carries the final scores and, for competitive pot games,
// the payout summary.
type GameEndMessage struct {
	Type        string            `json:"type"` // "game_end"
	GameID      string            `json:"game_id"`
	WinnerID    string            `json:"winner_id,omitempty"`
	Answer      string            `json:"answer"`
	FinalScores map[string]int    `json:"final_scores"`
	Payout      string            `json:"payout,omitempty"`
	Refunds     map[string]string `json:"refunds,omitempty"`
	SystemError bool              `json:"system_error,omitempty"`
}

// ErrorMessage is sent to a single client when an action is rejected.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newErrorMessage(err error) ErrorMessage {
	ge := asGameError(err)
	return ErrorMessage{
		Type:    "error",
		Code:    ge.Code,
		Message: ge.Message,
	}
}
