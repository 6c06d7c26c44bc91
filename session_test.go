package main

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSessionConfig(mode GameMode) SessionConfig {
	return SessionConfig{
		Mode:          mode,
		Topic:         "Capitals",
		WordCount:     1,
		Answer:        "Paris",
		ImageRef:      "img-1",
		Countdown:     time.Second,
		PhaseLength:   10 * time.Second,
		Reveal:        defaultRevealSchedule(3),
		Score:         defaultScorePolicy(3),
		LobbyCapacity: 8,
		GraceWindow:   5 * time.Second,
		EntryFee:      decimal.NewFromInt(10),
		HouseCutRate:  decimal.Zero,
	}
}

func startTestSession(t *testing.T, mode GameMode) (*Session, *manualClock, *recorder) {
	t.Helper()

	clk := newManualClock()
	rec := &recorder{}
	s := newSession("game-1", "ABC123", testSessionConfig(mode), &Config{}, clk, rec)
	go s.run()
	t.Cleanup(s.destroy)

	return s, clk, rec
}

func waitForState(t *testing.T, s *Session, state string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().State == state
	}, time.Second, time.Millisecond, "session never reached %s", state)
}

func waitForPhase(t *testing.T, s *Session, phase int) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == "REVEALING" && snap.Phase == phase
	}, time.Second, time.Millisecond, "session never reached phase %d", phase)
}

// joinTwo joins the host and one other player.
func joinTwo(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Join("p1", "alice", ""))
	require.NoError(t, s.Join("p2", "bob", ""))
}

// beginGame takes a two-player session through LOBBY -> STARTING -> phase 1.
func beginGame(t *testing.T, s *Session, clk *manualClock) {
	t.Helper()
	joinTwo(t, s)
	require.NoError(t, s.Start("p1"))
	clk.advance(time.Second)
	waitForPhase(t, s, 1)
}

func TestCorrectGuessEndsGame(t *testing.T) {
	s, clk, rec := startTestSession(t, ModePrivate)
	beginGame(t, s, clk)

	require.NoError(t, s.Guess("p2", "paris"))
	waitForState(t, s, "ENDED")

	snap := s.Snapshot()
	assert.Equal(t, "p2", snap.WinnerID)
	assert.Equal(t, "Paris", snap.Answer)
	assert.Equal(t, float64(100), snap.RevealPercent)

	end, ok := rec.lastGameEnd()
	require.True(t, ok)
	assert.Equal(t, "p2", end.WinnerID)
	assert.Positive(t, end.FinalScores["p2"])
	assert.Zero(t, end.FinalScores["p1"])
	assert.Empty(t, end.Payout, "no pot in PRIVATE mode")
}

func TestIncorrectThenCorrectGuess(t *testing.T) {
	s, clk, rec := startTestSession(t, ModePrivate)
	beginGame(t, s, clk)

	require.NoError(t, s.Guess("p1", "London"))
	require.NoError(t, s.Guess("p2", "Paris"))
	waitForState(t, s, "ENDED")

	results := rec.guessResults()
	require.Len(t, results, 2)
	assert.False(t, results[0].Correct)
	assert.Equal(t, "p1", results[0].PlayerID)
	assert.Zero(t, results[0].Points)
	assert.True(t, results[1].Correct)
	assert.Equal(t, "p2", results[1].PlayerID)

	end, _ := rec.lastGameEnd()
	assert.Zero(t, end.FinalScores["p1"])
	assert.Positive(t, end.FinalScores["p2"])
}

func TestConcurrentGuessesSingleWinner(t *testing.T) {
	s, clk, _ := startTestSession(t, ModePrivate)
	beginGame(t, s, clk)

	const guessers = 2
	errs := make([]error, 8)

	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Guess(fmt.Sprintf("p%d", i%guessers+1), "Paris")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.Equal(t, CodeState, asGameError(err).Code)
			assert.Contains(t, err.Error(), "already resolved")
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent guess may win")

	snap := s.Snapshot()
	assert.Equal(t, "ENDED", snap.State)
	total := 0
	for _, p := range snap.Players {
		total += p.Score
	}
	assert.Positive(t, total)

	// The winner is the first applied correct guess, never two.
	winning := 0
	s.mu.RLock()
	for _, g := range s.guessLog {
		if g.Winning {
			winning++
		}
	}
	s.mu.RUnlock()
	assert.Equal(t, 1, winning)
}

func TestHostReassignedOnDisconnect(t *testing.T) {
	s, clk, _ := startTestSession(t, ModePrivate)
	require.NoError(t, s.Join("p1", "alice", ""))
	require.NoError(t, s.Join("p2", "bob", ""))
	require.NoError(t, s.Join("p3", "carol", ""))

	s.Disconnect("p1")
	require.Eventually(t, func() bool {
		for _, p := range s.Snapshot().Players {
			if p.ID == "p1" {
				return !p.Connected
			}
		}
		return false
	}, time.Second, time.Millisecond)

	clk.advance(5 * time.Second)

	require.Eventually(t, func() bool {
		return len(s.Snapshot().Players) == 2
	}, time.Second, time.Millisecond)

	snap := s.Snapshot()
	assert.Equal(t, "LOBBY", snap.State)
	assert.Equal(t, "p2", snap.Players[0].ID, "earliest-joined remaining player becomes host")
	assert.True(t, snap.Players[0].IsHost)
	assert.False(t, snap.Players[1].IsHost)
}

func TestReconnectWithinGraceKeepsPlayer(t *testing.T) {
	s, clk, _ := startTestSession(t, ModePrivate)
	joinTwo(t, s)

	s.Disconnect("p2")
	require.Eventually(t, func() bool {
		return !s.Snapshot().Players[1].Connected
	}, time.Second, time.Millisecond)

	clk.advance(2 * time.Second)
	require.NoError(t, s.Join("p2", "bob", ""))

	clk.advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)

	snap := s.Snapshot()
	require.Len(t, snap.Players, 2)
	assert.True(t, snap.Players[1].Connected)
}

func TestNonHostCannotStart(t *testing.T) {
	s, _, _ := startTestSession(t, ModePrivate)
	joinTwo(t, s)

	err := s.Start("p2")
	require.Error(t, err)
	assert.Equal(t, CodeUnauthorized, asGameError(err).Code)
	assert.Equal(t, "LOBBY", s.Snapshot().State)
}

func TestStartRequiresMinimumPlayers(t *testing.T) {
	s, _, _ := startTestSession(t, ModeMultiplayer)
	require.NoError(t, s.Join("p1", "alice", ""))

	err := s.Start("p1")
	require.Error(t, err)
	assert.Equal(t, CodeCapacity, asGameError(err).Code)
}

func TestSoloModeStartsAlone(t *testing.T) {
	s, clk, _ := startTestSession(t, ModeSolo)
	require.NoError(t, s.Join("p1", "alice", ""))

	err := s.Join("p2", "bob", "")
	require.Error(t, err, "solo lobby only fits one player")
	assert.Equal(t, CodeCapacity, asGameError(err).Code)

	require.NoError(t, s.Start("p1"))
	clk.advance(time.Second)
	waitForPhase(t, s, 1)
}

func TestJoinRejectedAfterStart(t *testing.T) {
	s, clk, _ := startTestSession(t, ModePrivate)
	beginGame(t, s, clk)

	err := s.Join("p3", "carol", "")
	require.Error(t, err)
	assert.Equal(t, CodeState, asGameError(err).Code)
}

func TestGuessRejectedInLobby(t *testing.T) {
	s, _, _ := startTestSession(t, ModePrivate)
	joinTwo(t, s)

	err := s.Guess("p1", "Paris")
	require.Error(t, err)
	assert.Equal(t, CodeState, asGameError(err).Code)
}

func TestStateProgressesThroughPhases(t *testing.T) {
	s, clk, _ := startTestSession(t, ModePrivate)
	joinTwo(t, s)

	assert.Equal(t, "LOBBY", s.Snapshot().State)
	require.NoError(t, s.Start("p1"))
	assert.Equal(t, "STARTING", s.Snapshot().State)

	clk.advance(time.Second)
	waitForPhase(t, s, 1)

	prev := s.Snapshot().RevealPercent
	for phase := 2; phase <= 3; phase++ {
		clk.advance(10 * time.Second)
		waitForPhase(t, s, phase)

		cur := s.Snapshot().RevealPercent
		assert.GreaterOrEqual(t, cur, prev, "reveal never regresses across a phase boundary")
		prev = cur
	}

	// Final phase expires with no correct guess.
	clk.advance(10 * time.Second)
	waitForState(t, s, "ENDED")

	snap := s.Snapshot()
	assert.Empty(t, snap.WinnerID)
	assert.Equal(t, float64(100), snap.RevealPercent)
}

func TestPotRefundedOnTimeout(t *testing.T) {
	s, clk, rec := startTestSession(t, ModeCompetitivePot)
	joinTwo(t, s)

	assert.Equal(t, "20.00", s.Snapshot().PotAmount)

	require.NoError(t, s.Start("p1"))
	clk.advance(time.Second)
	waitForPhase(t, s, 1)

	for phase := 2; phase <= 3; phase++ {
		clk.advance(10 * time.Second)
		waitForPhase(t, s, phase)
	}
	clk.advance(10 * time.Second)
	waitForState(t, s, "ENDED")

	end, ok := rec.lastGameEnd()
	require.True(t, ok)
	assert.Empty(t, end.WinnerID)
	assert.Empty(t, end.Payout)
	assert.Equal(t, map[string]string{"p1": "10.00", "p2": "10.00"}, end.Refunds)

	require.True(t, s.pot.isSettled())
}

func TestPotPaidToWinner(t *testing.T) {
	s, clk, rec := startTestSession(t, ModeCompetitivePot)
	beginGame(t, s, clk)

	require.NoError(t, s.Guess("p2", " PARIS "))
	waitForState(t, s, "ENDED")

	end, _ := rec.lastGameEnd()
	assert.Equal(t, "p2", end.WinnerID)
	assert.Equal(t, "20.00", end.Payout)
	assert.Empty(t, end.Refunds)
}

func TestPotRefundsDepartingLobbyPlayer(t *testing.T) {
	s, _, _ := startTestSession(t, ModeCompetitivePot)
	joinTwo(t, s)

	require.NoError(t, s.Leave("p2"))

	snap := s.Snapshot()
	assert.Equal(t, "10.00", snap.PotAmount)
	require.Len(t, snap.Players, 1)
}

func TestEmptyLobbyAborts(t *testing.T) {
	s, _, _ := startTestSession(t, ModePrivate)
	joinTwo(t, s)

	require.NoError(t, s.Leave("p2"))
	require.NoError(t, s.Leave("p1"))

	waitForState(t, s, "ENDED")
}

func TestAbortMidGameRefundsPot(t *testing.T) {
	s, clk, rec := startTestSession(t, ModeCompetitivePot)
	beginGame(t, s, clk)

	require.NoError(t, s.Abort())
	waitForState(t, s, "ENDED")

	end, ok := rec.lastGameEnd()
	require.True(t, ok)
	assert.Empty(t, end.WinnerID)
	assert.Equal(t, map[string]string{"p1": "10.00", "p2": "10.00"}, end.Refunds)

	// No further operations are accepted.
	err := s.Guess("p1", "Paris")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

func TestChatAppendsAndBroadcasts(t *testing.T) {
	s, _, rec := startTestSession(t, ModePrivate)
	joinTwo(t, s)

	require.NoError(t, s.Chat("p1", "hello"))
	require.NoError(t, s.Chat("p2", "hi alice"))

	snap := s.Snapshot()
	require.Len(t, snap.Chat, 2)
	assert.Equal(t, "hello", snap.Chat[0].Text)
	assert.Equal(t, "alice", snap.Chat[0].Name)

	broadcasts := 0
	for _, msg := range rec.all() {
		if _, ok := msg.(ChatBroadcastMessage); ok {
			broadcasts++
		}
	}
	assert.Equal(t, 2, broadcasts)
}

func TestGuessAuditLogOrdering(t *testing.T) {
	s, clk, _ := startTestSession(t, ModePrivate)
	beginGame(t, s, clk)

	require.NoError(t, s.Guess("p1", "London"))
	require.NoError(t, s.Guess("p1", "Berlin"))
	require.NoError(t, s.Guess("p2", "Paris"))

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.guessLog, 3)
	assert.Less(t, s.guessLog[0].Seq, s.guessLog[1].Seq)
	assert.Less(t, s.guessLog[1].Seq, s.guessLog[2].Seq)
	assert.True(t, s.guessLog[2].Winning)
	assert.False(t, s.guessLog[0].Winning)
}

func TestStaleTimerForOldPhaseIgnored(t *testing.T) {
	s, clk, _ := startTestSession(t, ModePrivate)
	beginGame(t, s, clk)

	// Ending the game leaves no room for the pending phase timer to act.
	require.NoError(t, s.Guess("p2", "Paris"))
	waitForState(t, s, "ENDED")

	clk.advance(time.Minute)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, "ENDED", s.Snapshot().State)
}
