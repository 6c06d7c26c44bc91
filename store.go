package main

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

const gameCodeLength = 6

// SessionStore owns the code->session and id->session mappings. It is the
// only structure shared across session lifecycles, so every access is
// guarded here; sessions themselves never touch it.
type SessionStore struct {
	mu     sync.RWMutex
	byCode map[string]*Session
	byID   map[string]*Session

	srv *Config
	clk clock
	out broadcaster

	onDestroy func(session *Session)
}

func newSessionStore(srv *Config, clk clock, out broadcaster) *SessionStore {
	return &SessionStore{
		byCode: make(map[string]*Session),
		byID:   make(map[string]*Session),
		srv:    srv,
		clk:    clk,
		out:    out,
	}
}

// Create registers a new session under a fresh collision-free game code and
// starts its loop.
func (st *SessionStore) Create(cfg SessionConfig) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	code := st.newGameCodeLocked()
	id := uuid.NewString()

	session := newSession(id, code, cfg, st.srv, st.clk, st.out)
	st.byCode[code] = session
	st.byID[id] = session

	go session.run()

	logf(st.srv, "GAMES: created session %s (%s, mode %s)", code, id, cfg.Mode)

	return session
}

func (st *SessionStore) ByCode(code string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session, ok := st.byCode[code]
	return session, ok
}

func (st *SessionStore) ByID(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	session, ok := st.byID[id]
	return session, ok
}

// Resolve accepts either a game id or a game code.
func (st *SessionStore) Resolve(ref string) (*Session, bool) {
	if session, ok := st.ByID(ref); ok {
		return session, true
	}
	return st.ByCode(ref)
}

// Remove destroys a session and frees its code for reuse.
func (st *SessionStore) Remove(id string) {
	st.mu.Lock()
	session, ok := st.byID[id]
	if ok {
		delete(st.byID, id)
		delete(st.byCode, session.code)
	}
	st.mu.Unlock()

	if !ok {
		return
	}

	session.destroy()
	if st.onDestroy != nil {
		st.onDestroy(session)
	}

	logf(st.srv, "GAMES: destroyed session %s", session.code)
}

func (st *SessionStore) count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.byID)
}

// newGameCodeLocked generates a crypto-random game code and ensures it does
// not collide with an active session.
func (st *SessionStore) newGameCodeLocked() string {
	const letters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	for {
		buf := make([]byte, gameCodeLength)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, gameCodeLength)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		if _, exists := st.byCode[code]; !exists {
			return code
		}
	}
}

// reaperLoop periodically removes sessions that have ended or emptied out
// and been idle longer than idleTimeout.
func (st *SessionStore) reaperLoop(idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-idleTimeout)

		st.mu.RLock()
		candidates := make([]*Session, 0, len(st.byID))
		for _, session := range st.byID {
			candidates = append(candidates, session)
		}
		st.mu.RUnlock()

		for _, session := range candidates {
			last, ended := session.idleSince()
			if last.After(cutoff) {
				continue
			}
			if ended || session.isEmpty() {
				st.Remove(session.id)
			}
		}
	}
}
