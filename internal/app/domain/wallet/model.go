// Package wallet defines the account ledger domain types.
package wallet

import "time"

// Account holds the funds a participant can spend on entries and receive
// winnings into.
type Account struct {
	ID        string
	Address   string
	Balance   float64
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionKind classifies ledger movements.
type TransactionKind string

const (
	TransactionDeposit  TransactionKind = "deposit"
	TransactionEntryFee TransactionKind = "entry_fee"
	TransactionRefund   TransactionKind = "refund"
	TransactionPayout   TransactionKind = "payout"
)

// Transaction records a single balance movement on an account.
type Transaction struct {
	ID        string
	Address   string
	Kind      TransactionKind
	Amount    float64
	Reference string
	CreatedAt time.Time
}
