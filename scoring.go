package main

import (
	"strings"
	"time"
)

// RevealSchedule maps (phase, elapsed time within the phase) to a reveal
// percentage. Caps are cumulative per phase, strictly increasing, and the
// final cap is always 100. Within a phase the percentage rises linearly from
// the previous phase's cap, so it never regresses across a boundary.
type RevealSchedule struct {
	PhaseCaps []float64
}

func defaultRevealSchedule(phases int) RevealSchedule {
	caps := make([]float64, phases)
	for i := range caps {
		caps[i] = 100 * float64(i+1) / float64(phases)
	}
	return RevealSchedule{PhaseCaps: caps}
}

func (s RevealSchedule) Phases() int {
	return len(s.PhaseCaps)
}

// Percent returns the reveal percentage for 1-based phase k after elapsed
// time within a phase of the given length.
func (s RevealSchedule) Percent(phase int, elapsed, phaseLength time.Duration) float64 {
	if phase < 1 {
		return 0
	}
	if phase > len(s.PhaseCaps) {
		return 100
	}

	floor := 0.0
	if phase > 1 {
		floor = s.PhaseCaps[phase-2]
	}
	cap := s.PhaseCaps[phase-1]

	frac := 0.0
	if phaseLength > 0 {
		frac = float64(elapsed) / float64(phaseLength)
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	return floor + (cap-floor)*frac
}

// ScorePolicy fixes the point award for a correct guess at session creation.
// PhasePoints holds the award at the start of each phase; FloorPoints is the
// award approached at the end of the final phase. Awards interpolate linearly
// within a phase in whole points, so guesses moments apart may tie and the
// end of one phase meets the start of the next; strict decay holds between
// phase starts.
type ScorePolicy struct {
	PhasePoints []int
	FloorPoints int
}

func defaultScorePolicy(phases int) ScorePolicy {
	points := make([]int, phases)
	for i := range points {
		points[i] = 100 - (80*i)/max(phases-1, 1)
	}
	return ScorePolicy{PhasePoints: points, FloorPoints: 10}
}

// Award returns the points earned by a correct guess in 1-based phase k
// after elapsed time within a phase of the given length.
func (p ScorePolicy) Award(phase int, elapsed, phaseLength time.Duration) int {
	if phase < 1 || len(p.PhasePoints) == 0 {
		return p.FloorPoints
	}
	if phase > len(p.PhasePoints) {
		return p.FloorPoints
	}

	start := p.PhasePoints[phase-1]
	end := p.FloorPoints
	if phase < len(p.PhasePoints) {
		end = p.PhasePoints[phase]
	}

	frac := 0.0
	if phaseLength > 0 {
		frac = float64(elapsed) / float64(phaseLength)
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	award := start - int(frac*float64(start-end))
	if award < end {
		award = end
	}
	return award
}

// Verdict is the outcome of evaluating a single guess.
type Verdict struct {
	Correct bool
	Points  int
}

// normalizeGuess lowercases and collapses all interior whitespace to single
// spaces, trimming the ends.
func normalizeGuess(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// evaluateGuess compares a submitted guess against the answer using
// case-insensitive, whitespace-normalized exact matching, then prices a
// correct guess by the session's score policy. It is pure: no session state
// is touched.
func evaluateGuess(answer, guess string, policy ScorePolicy, phase int, elapsed, phaseLength time.Duration) Verdict {
	if normalizeGuess(guess) != normalizeGuess(answer) {
		return Verdict{}
	}
	return Verdict{
		Correct: true,
		Points:  policy.Award(phase, elapsed, phaseLength),
	}
}
