package raffle

import (
	"errors"
	"fmt"
)

var (
	// ErrRaffleNotOpen rejects entries while a draw is in progress.
	ErrRaffleNotOpen = errors.New("raffle is not open")

	// ErrNotEnoughFunds rejects entries whose fee is below the entrance fee.
	ErrNotEnoughFunds = errors.New("entry fee below entrance fee")

	// ErrUnknownRequest rejects random words that do not match the
	// outstanding randomness request.
	ErrUnknownRequest = errors.New("unknown randomness request")

	// ErrTransferFailed reports a winner payout that did not complete.
	// The round stays in calculating until an operator intervenes.
	ErrTransferFailed = errors.New("winner payout failed")

	// ErrNoDrawInProgress rejects draw recovery calls while the raffle is open.
	ErrNoDrawInProgress = errors.New("no draw in progress")
)

// UpkeepNotNeededError reports why a draw could not start. It mirrors the
// upkeep check so callers can see which precondition failed.
type UpkeepNotNeededError struct {
	Balance      float64
	Participants int
	State        State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: state=%s participants=%d balance=%.8f", e.State, e.Participants, e.Balance)
}
