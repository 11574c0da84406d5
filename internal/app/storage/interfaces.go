package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/domain/wallet"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RoundStore persists raffle rounds.
type RoundStore interface {
	CreateRound(ctx context.Context, round raffle.Round) (raffle.Round, error)
	UpdateRound(ctx context.Context, round raffle.Round) (raffle.Round, error)
	GetRound(ctx context.Context, id string) (raffle.Round, error)
	GetLatestRound(ctx context.Context) (raffle.Round, error)
	ListRounds(ctx context.Context, limit int) ([]raffle.Round, error)
}

// EntryStore persists raffle entries.
type EntryStore interface {
	CreateEntry(ctx context.Context, entry raffle.Entry) (raffle.Entry, error)
	ListEntries(ctx context.Context, roundID string) ([]raffle.Entry, error)
}

// RequestStore persists randomness requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	UpdateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error)
	GetRequest(ctx context.Context, id string) (randomness.Request, error)
	ListRequests(ctx context.Context, roundID string) ([]randomness.Request, error)
	ListPendingRequests(ctx context.Context) ([]randomness.Request, error)
}

// WalletStore persists wallet accounts and transactions.
type WalletStore interface {
	CreateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error)
	UpdateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error)
	GetWalletAccount(ctx context.Context, id string) (wallet.Account, error)
	GetWalletAccountByAddress(ctx context.Context, address string) (wallet.Account, error)
	ListWalletAccounts(ctx context.Context) ([]wallet.Account, error)

	CreateWalletTransaction(ctx context.Context, tx wallet.Transaction) (wallet.Transaction, error)
	ListWalletTransactions(ctx context.Context, address string) ([]wallet.Transaction, error)
}
