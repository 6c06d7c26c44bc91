package main

import (
	"github.com/shopspring/decimal"
)

// PotOutcome records how a settled pot was disbursed. Exactly one of Payout
// or Refunds is non-empty, except for a zero-contribution pot where both are.
type PotOutcome struct {
	WinnerID string
	Payout   decimal.Decimal
	HouseCut decimal.Decimal
	Refunds  map[string]decimal.Decimal
}

// PotLedger tracks entry-fee contributions for a competitive pot session.
// It is owned by its Session and only ever touched from the session loop,
// so it carries no locking of its own.
type PotLedger struct {
	entryFee      decimal.Decimal
	houseCutRate  decimal.Decimal
	contributions map[string]decimal.Decimal
	settled       bool
	outcome       PotOutcome
}

func newPotLedger(entryFee, houseCutRate decimal.Decimal) *PotLedger {
	return &PotLedger{
		entryFee:      entryFee,
		houseCutRate:  houseCutRate,
		contributions: make(map[string]decimal.Decimal),
	}
}

// contribute records the entry fee for a joining player. Contributing twice
// is a ledger error rather than a double charge.
func (l *PotLedger) contribute(playerID string) error {
	if l.settled {
		return errLedger("pot already settled")
	}
	if _, ok := l.contributions[playerID]; ok {
		return errLedger("player %s already contributed", playerID)
	}
	l.contributions[playerID] = l.entryFee
	return nil
}

// withdraw refunds and removes a player's contribution. Used when a player
// leaves the lobby before the game starts.
func (l *PotLedger) withdraw(playerID string) (decimal.Decimal, error) {
	if l.settled {
		return decimal.Zero, errLedger("pot already settled")
	}
	amount, ok := l.contributions[playerID]
	if !ok {
		return decimal.Zero, errLedger("player %s has no contribution", playerID)
	}
	delete(l.contributions, playerID)
	return amount, nil
}

func (l *PotLedger) hasContributed(playerID string) bool {
	_, ok := l.contributions[playerID]
	return ok
}

func (l *PotLedger) total() decimal.Decimal {
	sum := decimal.Zero
	for _, amount := range l.contributions {
		sum = sum.Add(amount)
	}
	return sum
}

func (l *PotLedger) isSettled() bool {
	return l.settled
}

// settle disburses the pot exactly once. With a winner, the full pot minus
// the house cut is paid out; with no winner every contribution is refunded.
// A repeat call changes nothing and reports the original outcome.
func (l *PotLedger) settle(winnerID string) (PotOutcome, bool) {
	if l.settled {
		return l.outcome, false
	}

	pot := l.total()
	outcome := PotOutcome{
		Payout:   decimal.Zero,
		HouseCut: decimal.Zero,
		Refunds:  make(map[string]decimal.Decimal),
	}

	if winnerID != "" {
		cut := pot.Mul(l.houseCutRate)
		outcome.WinnerID = winnerID
		outcome.HouseCut = cut
		outcome.Payout = pot.Sub(cut)
	} else {
		for playerID, amount := range l.contributions {
			outcome.Refunds[playerID] = amount
		}
	}

	l.outcome = outcome
	l.settled = true

	return outcome, true
}
