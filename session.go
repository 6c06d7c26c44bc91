package main

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type SessionState int

const (
	StateLobby SessionState = iota
	StateStarting
	StateRevealing
	StateScored
	StateSettlement
	StateEnded
)

func (s SessionState) String() string {
	switch s {
	case StateLobby:
		return "LOBBY"
	case StateStarting:
		return "STARTING"
	case StateRevealing:
		return "REVEALING"
	case StateScored:
		return "SCORED"
	case StateSettlement:
		return "SETTLEMENT"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

type GameMode string

const (
	ModeSolo           GameMode = "SOLO"
	ModeMultiplayer    GameMode = "MULTIPLAYER"
	ModePrivate        GameMode = "PRIVATE"
	ModeCompetitivePot GameMode = "COMPETITIVE_POT"
)

func parseGameMode(s string) (GameMode, error) {
	switch GameMode(s) {
	case ModeSolo, ModeMultiplayer, ModePrivate, ModeCompetitivePot:
		return GameMode(s), nil
	default:
		return "", errValidation("unknown game mode: %q", s)
	}
}

func (m GameMode) minPlayers() int {
	if m == ModeSolo {
		return 1
	}
	return 2
}

func (m GameMode) maxPlayers(capacity int) int {
	if m == ModeSolo {
		return 1
	}
	return capacity
}

// Player holds the server-side roster entry for one participant.
type Player struct {
	ID          string
	Name        string
	Avatar      string
	IsHost      bool
	ConnectedAt time.Time

	stale bool
}

// GuessEvent is the immutable audit record of one submitted guess. The
// sequence number is assigned as the operation is applied, which is what
// makes first-correct-guess-wins deterministic.
type GuessEvent struct {
	Seq        uint64
	PlayerID   string
	Text       string
	Phase      int
	Correct    bool
	Winning    bool
	ReceivedAt time.Time
}

// SessionConfig is fixed at creation and never renegotiated mid-game.
type SessionConfig struct {
	Mode          GameMode
	Topic         string
	WordCount     int
	Answer        string
	ImageRef      string
	Countdown     time.Duration
	PhaseLength   time.Duration
	Reveal        RevealSchedule
	Score         ScorePolicy
	LobbyCapacity int
	GraceWindow   time.Duration
	EntryFee      decimal.Decimal
	HouseCutRate  decimal.Decimal
}

type opKind int

const (
	opJoin opKind = iota
	opLeave
	opDisconnect
	opStart
	opGuess
	opChat
	opTimer
	opAbort
)

type timerKind int

const (
	timerNone timerKind = iota
	timerCountdown
	timerPhase
	timerGrace
)

type sessionOp struct {
	kind     opKind
	playerID string
	name     string
	avatar   string
	text     string
	timer    timerKind
	phase    int
	reply    chan error
}

// broadcaster is the session's outbound side: the gateway in production, a
// recorder in tests.
type broadcaster interface {
	broadcast(sessionID string, msg any)
}

const timerRetryDelay = 250 * time.Millisecond

// Session is the authority for one game. All state mutations flow through a
// single buffered inbox consumed by run, so operations are applied one at a
// time in arrival order. Timer firings are just more operations in the same
// stream.
type Session struct {
	id   string
	code string
	cfg  SessionConfig

	srv *Config
	clk clock
	out broadcaster

	ops  chan sessionOp
	done chan struct{}
	once sync.Once

	mu             sync.RWMutex
	state          SessionState
	phase          int
	phaseStartedAt time.Time
	players        []*Player
	scores         map[string]int
	guessLog       []GuessEvent
	chatLog        []ChatEntry
	pot            *PotLedger
	winnerID       string
	systemError    bool
	seq            uint64
	createdAt      time.Time
	lastActive     time.Time
	endedAt        time.Time

	countdownTimer sessionTimer
	phaseTimer     sessionTimer
	graceTimers    map[string]sessionTimer
}

func newSession(id, code string, cfg SessionConfig, srv *Config, clk clock, out broadcaster) *Session {
	now := clk.Now()
	s := &Session{
		id:          id,
		code:        code,
		cfg:         cfg,
		srv:         srv,
		clk:         clk,
		out:         out,
		ops:         make(chan sessionOp, 64),
		done:        make(chan struct{}),
		state:       StateLobby,
		scores:      make(map[string]int),
		graceTimers: make(map[string]sessionTimer),
		createdAt:   now,
		lastActive:  now,
	}
	if cfg.Mode == ModeCompetitivePot {
		s.pot = newPotLedger(cfg.EntryFee, cfg.HouseCutRate)
	}
	return s
}

func (s *Session) run() {
	for {
		select {
		case op := <-s.ops:
			s.apply(op)
		case <-s.done:
			return
		}
	}
}

// destroy stops the session loop and cancels any outstanding timers. Called
// by the store when the session is removed.
func (s *Session) destroy() {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.cancelTimersLocked()
		s.mu.Unlock()
	})
}

func (s *Session) cancelTimersLocked() {
	if s.countdownTimer != nil {
		s.countdownTimer.Stop()
		s.countdownTimer = nil
	}
	if s.phaseTimer != nil {
		s.phaseTimer.Stop()
		s.phaseTimer = nil
	}
	for id, t := range s.graceTimers {
		t.Stop()
		delete(s.graceTimers, id)
	}
}

// --- ingress ---

func (s *Session) submit(op sessionOp) error {
	op.reply = make(chan error, 1)

	select {
	case s.ops <- op:
	case <-s.done:
		return errState("game no longer exists")
	}

	select {
	case err := <-op.reply:
		return err
	case <-s.done:
		return errState("game no longer exists")
	}
}

func (s *Session) Join(playerID, name, avatar string) error {
	return s.submit(sessionOp{kind: opJoin, playerID: playerID, name: name, avatar: avatar})
}

func (s *Session) Leave(playerID string) error {
	return s.submit(sessionOp{kind: opLeave, playerID: playerID})
}

func (s *Session) Disconnect(playerID string) {
	select {
	case s.ops <- sessionOp{kind: opDisconnect, playerID: playerID}:
	case <-s.done:
	}
}

func (s *Session) Start(playerID string) error {
	return s.submit(sessionOp{kind: opStart, playerID: playerID})
}

// Guess returns only validation and state errors synchronously; the verdict
// itself is conveyed to all subscribers via broadcast.
func (s *Session) Guess(playerID, text string) error {
	return s.submit(sessionOp{kind: opGuess, playerID: playerID, text: text})
}

func (s *Session) Chat(playerID, text string) error {
	return s.submit(sessionOp{kind: opChat, playerID: playerID, text: text})
}

func (s *Session) Abort() error {
	return s.submit(sessionOp{kind: opAbort})
}

// postTimerOp feeds a timer firing into the operation stream. A saturated
// inbox gets one delayed retry; if that also fails the session is forced to
// ENDED with the system-error flag instead of hanging.
func (s *Session) postTimerOp(op sessionOp) {
	select {
	case s.ops <- op:
		return
	case <-s.done:
		return
	default:
	}

	logf(s.srv, "GAMES: session %s inbox saturated, retrying timer delivery", s.code)

	s.clk.AfterFunc(timerRetryDelay, func() {
		select {
		case s.ops <- op:
		case <-s.done:
		default:
			s.failSession()
		}
	})
}

// failSession is the catastrophic path: the loop cannot accept timer
// operations, so the session is ended directly under the lock.
func (s *Session) failSession() {
	s.mu.Lock()
	if s.state == StateEnded {
		s.mu.Unlock()
		return
	}
	s.systemError = true
	msgs := s.finishLocked("")
	s.mu.Unlock()

	logf(s.srv, "GAMES: session %s forced to ENDED by timer failure", s.code)

	for _, msg := range msgs {
		s.out.broadcast(s.id, msg)
	}
}

// --- the serialized core ---

// apply executes one operation with the session lock held, then delivers the
// resulting broadcasts after releasing it so a slow subscriber can never
// stall game logic.
func (s *Session) apply(op sessionOp) {
	s.mu.Lock()
	s.seq++
	s.lastActive = s.clk.Now()

	var (
		err  error
		msgs []any
	)

	switch op.kind {
	case opJoin:
		msgs, err = s.handleJoinLocked(op)
	case opLeave:
		msgs, err = s.handleLeaveLocked(op.playerID)
	case opDisconnect:
		msgs = s.handleDisconnectLocked(op.playerID)
	case opStart:
		msgs, err = s.handleStartLocked(op)
	case opGuess:
		msgs, err = s.handleGuessLocked(op)
	case opChat:
		msgs, err = s.handleChatLocked(op)
	case opTimer:
		msgs = s.handleTimerLocked(op)
	case opAbort:
		msgs = s.abortLocked()
	}

	s.mu.Unlock()

	if op.reply != nil {
		op.reply <- err
	}

	for _, msg := range msgs {
		s.out.broadcast(s.id, msg)
	}
}

func (s *Session) findPlayerLocked(playerID string) *Player {
	for _, p := range s.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (s *Session) handleJoinLocked(op sessionOp) ([]any, error) {
	if existing := s.findPlayerLocked(op.playerID); existing != nil {
		// Reconnect: clear the stale mark and cancel any pending removal.
		existing.stale = false
		if t, ok := s.graceTimers[op.playerID]; ok {
			t.Stop()
			delete(s.graceTimers, op.playerID)
		}
		if s.state == StateLobby && op.name != "" {
			existing.Name = op.name
			existing.Avatar = op.avatar
		}
		return []any{s.snapshotLocked()}, nil
	}

	if s.state != StateLobby {
		return nil, errState("game already started")
	}
	if op.name == "" {
		return nil, errValidation("display name is required")
	}
	if len(s.players) >= s.cfg.Mode.maxPlayers(s.cfg.LobbyCapacity) {
		return nil, errCapacity("lobby is full")
	}

	if s.pot != nil {
		if err := s.pot.contribute(op.playerID); err != nil {
			return nil, err
		}
		logf(s.srv, "POT: player %s contributed %s to %s", op.playerID, s.cfg.EntryFee, s.code)
	}

	player := &Player{
		ID:          op.playerID,
		Name:        op.name,
		Avatar:      op.avatar,
		IsHost:      len(s.players) == 0,
		ConnectedAt: s.clk.Now(),
	}
	s.players = append(s.players, player)
	s.scores[op.playerID] = 0

	logf(s.srv, "GAMES: player %q joined %s", op.name, s.code)

	return []any{s.snapshotLocked()}, nil
}

func (s *Session) handleLeaveLocked(playerID string) ([]any, error) {
	if s.findPlayerLocked(playerID) == nil {
		return nil, errNotFound("player is not in this game")
	}
	return s.removePlayerLocked(playerID), nil
}

func (s *Session) handleDisconnectLocked(playerID string) []any {
	player := s.findPlayerLocked(playerID)
	if player == nil || player.stale {
		return nil
	}
	player.stale = true

	if t, ok := s.graceTimers[playerID]; ok {
		t.Stop()
	}
	s.graceTimers[playerID] = s.clk.AfterFunc(s.cfg.GraceWindow, func() {
		s.postTimerOp(sessionOp{kind: opTimer, timer: timerGrace, playerID: playerID})
	})

	return []any{s.snapshotLocked()}
}

// removePlayerLocked drops a player from the roster, refunds their lobby
// contribution, reassigns the host if needed, and aborts the session when
// nobody remains.
func (s *Session) removePlayerLocked(playerID string) []any {
	idx := -1
	for i, p := range s.players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	wasHost := s.players[idx].IsHost
	name := s.players[idx].Name
	s.players = append(s.players[:idx], s.players[idx+1:]...)

	if t, ok := s.graceTimers[playerID]; ok {
		t.Stop()
		delete(s.graceTimers, playerID)
	}

	if s.state == StateLobby {
		delete(s.scores, playerID)
		if s.pot != nil && s.pot.hasContributed(playerID) {
			if amount, err := s.pot.withdraw(playerID); err == nil {
				logf(s.srv, "POT: refunded %s to departing player %s in %s", amount, playerID, s.code)
			}
		}
	}

	logf(s.srv, "GAMES: player %q left %s", name, s.code)

	if len(s.players) == 0 {
		if s.state != StateEnded {
			return s.abortLocked()
		}
		return nil
	}

	if wasHost && s.state == StateLobby {
		// Promote the earliest-joined remaining player.
		s.players[0].IsHost = true
		logf(s.srv, "GAMES: host of %s reassigned to %q", s.code, s.players[0].Name)
	}

	return []any{s.snapshotLocked()}
}

func (s *Session) handleStartLocked(op sessionOp) ([]any, error) {
	player := s.findPlayerLocked(op.playerID)
	if player == nil {
		return nil, errNotFound("player is not in this game")
	}
	if !player.IsHost {
		return nil, errUnauthorized("only the host may start the game")
	}
	if s.state != StateLobby {
		return nil, errState("game already started")
	}
	if len(s.players) < s.cfg.Mode.minPlayers() {
		return nil, errCapacity("need at least %d players to start", s.cfg.Mode.minPlayers())
	}
	if s.pot != nil {
		for _, p := range s.players {
			if !s.pot.hasContributed(p.ID) {
				return nil, errLedger("player %q has not paid the entry fee", p.Name)
			}
		}
	}

	s.state = StateStarting
	s.countdownTimer = s.clk.AfterFunc(s.cfg.Countdown, func() {
		s.postTimerOp(sessionOp{kind: opTimer, timer: timerCountdown})
	})

	logf(s.srv, "GAMES: session %s starting with %d players", s.code, len(s.players))

	return []any{StartingMessage{
		Type:      "game_starting",
		GameID:    s.id,
		Countdown: s.cfg.Countdown.Seconds(),
	}}, nil
}

func (s *Session) handleGuessLocked(op sessionOp) ([]any, error) {
	switch s.state {
	case StateLobby, StateStarting:
		return nil, errState("game has not started")
	case StateScored, StateSettlement, StateEnded:
		return nil, errState("already resolved")
	}

	player := s.findPlayerLocked(op.playerID)
	if player == nil {
		return nil, errNotFound("player is not in this game")
	}
	if op.text == "" {
		return nil, errValidation("guess text is required")
	}

	elapsed := s.clk.Now().Sub(s.phaseStartedAt)
	verdict := evaluateGuess(s.cfg.Answer, op.text, s.cfg.Score, s.phase, elapsed, s.cfg.PhaseLength)

	event := GuessEvent{
		Seq:        s.seq,
		PlayerID:   op.playerID,
		Text:       op.text,
		Phase:      s.phase,
		Correct:    verdict.Correct,
		Winning:    verdict.Correct,
		ReceivedAt: s.clk.Now(),
	}
	s.guessLog = append(s.guessLog, event)

	result := GuessResultMessage{
		Type:     "guess_result",
		Correct:  verdict.Correct,
		PlayerID: op.playerID,
		Name:     player.Name,
		Phase:    s.phase,
	}

	if !verdict.Correct {
		logf(s.srv, "GAMES: %q guessed incorrectly in %s (phase %d)", player.Name, s.code, s.phase)
		return []any{result}, nil
	}

	result.Points = verdict.Points
	s.scores[op.playerID] += verdict.Points

	logf(s.srv, "GAMES: %q guessed correctly in %s (phase %d, %d points)", player.Name, s.code, s.phase, verdict.Points)

	msgs := []any{result}
	msgs = append(msgs, s.finishLocked(op.playerID)...)

	return msgs, nil
}

func (s *Session) handleChatLocked(op sessionOp) ([]any, error) {
	if s.state == StateEnded {
		return nil, errState("game has ended")
	}
	player := s.findPlayerLocked(op.playerID)
	if player == nil {
		return nil, errNotFound("player is not in this game")
	}
	if op.text == "" {
		return nil, errValidation("chat text is required")
	}

	line := ChatEntry{
		PlayerID: op.playerID,
		Name:     player.Name,
		Text:     op.text,
		SentAt:   s.clk.Now(),
	}
	s.chatLog = append(s.chatLog, line)

	return []any{ChatBroadcastMessage{Type: "chat", Line: line}}, nil
}

func (s *Session) handleTimerLocked(op sessionOp) []any {
	switch op.timer {
	case timerCountdown:
		if s.state != StateStarting {
			return nil
		}
		return s.enterPhaseLocked(1)

	case timerPhase:
		// A timer for a previous phase may still fire after a transition;
		// it no longer matches and is ignored.
		if s.state != StateRevealing || op.phase != s.phase {
			return nil
		}
		if s.phase < s.cfg.Reveal.Phases() {
			return s.enterPhaseLocked(s.phase + 1)
		}
		// Final phase expired with no correct guess: still walk the
		// SCORED/SETTLEMENT path so a pot is refunded, not stranded.
		logf(s.srv, "GAMES: session %s timed out with no winner", s.code)
		return s.finishLocked("")

	case timerGrace:
		delete(s.graceTimers, op.playerID)
		player := s.findPlayerLocked(op.playerID)
		if player == nil || !player.stale {
			return nil
		}
		return s.removePlayerLocked(op.playerID)
	}

	return nil
}

func (s *Session) enterPhaseLocked(phase int) []any {
	s.state = StateRevealing
	s.phase = phase
	s.phaseStartedAt = s.clk.Now()

	if s.phaseTimer != nil {
		s.phaseTimer.Stop()
	}
	s.phaseTimer = s.clk.AfterFunc(s.cfg.PhaseLength, func() {
		s.postTimerOp(sessionOp{kind: opTimer, timer: timerPhase, phase: phase})
	})

	return []any{RevealMessage{
		Type:          "reveal",
		Phase:         phase,
		RevealPercent: s.cfg.Reveal.Percent(phase, 0, s.cfg.PhaseLength),
		TimeLeft:      s.cfg.PhaseLength.Seconds(),
	}}
}

// finishLocked walks SCORED -> SETTLEMENT -> ENDED in one step. The winner
// may be empty for a timeout or abort; the pot is then refunded in full.
func (s *Session) finishLocked(winnerID string) []any {
	if s.state == StateEnded {
		return nil
	}

	s.state = StateScored
	s.winnerID = winnerID

	s.state = StateSettlement
	end := GameEndMessage{
		Type:        "game_end",
		GameID:      s.id,
		WinnerID:    winnerID,
		Answer:      s.cfg.Answer,
		FinalScores: make(map[string]int, len(s.scores)),
		SystemError: s.systemError,
	}
	for id, score := range s.scores {
		end.FinalScores[id] = score
	}

	if s.pot != nil {
		outcome, settledNow := s.pot.settle(winnerID)
		if !settledNow {
			// Double settlement is a defect: report it, keep the original
			// outcome, never re-disburse.
			logf(s.srv, "POT: settlement of %s attempted twice", s.code)
		} else if outcome.WinnerID != "" {
			logf(s.srv, "POT: paid out %s to %s in %s", outcome.Payout, outcome.WinnerID, s.code)
		} else {
			logf(s.srv, "POT: refunded %d contributions in %s", len(outcome.Refunds), s.code)
		}
		if outcome.WinnerID != "" {
			end.Payout = outcome.Payout.StringFixed(2)
		}
		if len(outcome.Refunds) > 0 {
			end.Refunds = make(map[string]string, len(outcome.Refunds))
			for id, amount := range outcome.Refunds {
				end.Refunds[id] = amount.StringFixed(2)
			}
		}
	}

	s.state = StateEnded
	s.endedAt = s.clk.Now()
	s.cancelTimersLocked()

	logf(s.srv, "GAMES: session %s ended (winner: %q)", s.code, winnerID)

	return []any{end, s.snapshotLocked()}
}

func (s *Session) abortLocked() []any {
	if s.state == StateEnded {
		return nil
	}
	logf(s.srv, "GAMES: session %s aborted", s.code)
	return s.finishLocked("")
}

// --- read side ---

func (s *Session) snapshotLocked() GameSnapshot {
	snap := GameSnapshot{
		Type:        "game_state",
		GameID:      s.id,
		GameCode:    s.code,
		Mode:        string(s.cfg.Mode),
		Topic:       s.cfg.Topic,
		WordCount:   s.cfg.WordCount,
		State:       s.state.String(),
		Phase:       s.phase,
		PhaseCount:  s.cfg.Reveal.Phases(),
		ImageRef:    s.cfg.ImageRef,
		WinnerID:    s.winnerID,
		SystemError: s.systemError,
	}

	switch s.state {
	case StateRevealing:
		elapsed := s.clk.Now().Sub(s.phaseStartedAt)
		snap.RevealPercent = s.cfg.Reveal.Percent(s.phase, elapsed, s.cfg.PhaseLength)
		remaining := s.cfg.PhaseLength - elapsed
		if remaining < 0 {
			remaining = 0
		}
		snap.TimeLeft = remaining.Seconds()
	case StateScored, StateSettlement, StateEnded:
		snap.RevealPercent = 100
		snap.Answer = s.cfg.Answer
	}

	for _, p := range s.players {
		snap.Players = append(snap.Players, PlayerInfo{
			ID:        p.ID,
			Name:      p.Name,
			Avatar:    p.Avatar,
			IsHost:    p.IsHost,
			Score:     s.scores[p.ID],
			Connected: !p.stale,
		})
	}

	if s.pot != nil {
		snap.PotAmount = s.pot.total().StringFixed(2)
	}

	if len(s.chatLog) > 0 {
		snap.Chat = append(snap.Chat, s.chatLog...)
	}

	return snap
}

// Snapshot returns the current full state for reconnect and catch-up.
func (s *Session) Snapshot() GameSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// idleSince reports when the session last saw activity and whether it has
// ended, for the store's reaper.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive, s.state == StateEnded
}

func (s *Session) isEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players) == 0
}
