package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/domain/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
)

func TestRoundLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.GetLatestRound(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("empty store latest round error = %v, want ErrNotFound", err)
	}

	first, err := store.CreateRound(ctx, raffle.Round{Number: 1, State: raffle.StateOpen, EntranceFee: 0.5})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	second, err := store.CreateRound(ctx, raffle.Round{Number: 2, State: raffle.StateOpen, EntranceFee: 0.5})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}

	latest, err := store.GetLatestRound(ctx)
	if err != nil {
		t.Fatalf("latest round: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("latest round = %s, want %s", latest.ID, second.ID)
	}

	first.State = raffle.StateCalculating
	first.RequestID = "req-1"
	updated, err := store.UpdateRound(ctx, first)
	if err != nil {
		t.Fatalf("update round: %v", err)
	}
	if updated.RequestID != "req-1" || updated.State != raffle.StateCalculating {
		t.Fatalf("update not applied: %+v", updated)
	}

	rounds, err := store.ListRounds(ctx, 1)
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != 1 || rounds[0].ID != second.ID {
		t.Fatalf("list rounds = %+v, want newest first", rounds)
	}
}

func TestEntriesByRound(t *testing.T) {
	store := New()
	ctx := context.Background()

	round, err := store.CreateRound(ctx, raffle.Round{Number: 1, State: raffle.StateOpen})
	if err != nil {
		t.Fatalf("create round: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.CreateEntry(ctx, raffle.Entry{RoundID: round.ID, Address: "player", FeePaid: 0.5}); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}
	if _, err := store.CreateEntry(ctx, raffle.Entry{Address: "player"}); err == nil {
		t.Fatal("expected error for entry without round id")
	}

	entries, err := store.ListEntries(ctx, round.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
}

func TestPendingRequests(t *testing.T) {
	store := New()
	ctx := context.Background()

	pending, err := store.CreateRequest(ctx, randomness.Request{RoundID: "r1", Params: randomness.Params{Words: 1}})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if pending.Status != randomness.RequestStatusPending {
		t.Fatalf("default status = %s, want pending", pending.Status)
	}

	done := pending
	done.Status = randomness.RequestStatusFulfilled
	done.Result = []uint64{42}
	if _, err := store.UpdateRequest(ctx, done); err != nil {
		t.Fatalf("update request: %v", err)
	}

	if _, err := store.CreateRequest(ctx, randomness.Request{RoundID: "r2", Params: randomness.Params{Words: 1}}); err != nil {
		t.Fatalf("create request: %v", err)
	}

	list, err := store.ListPendingRequests(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(list) != 1 || list[0].RoundID != "r2" {
		t.Fatalf("pending = %+v, want single r2 request", list)
	}

	got, err := store.GetRequest(ctx, pending.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != randomness.RequestStatusFulfilled || len(got.Result) != 1 || got.Result[0] != 42 {
		t.Fatalf("fulfilled request = %+v", got)
	}
}

func TestWalletAccountsByAddress(t *testing.T) {
	store := New()
	ctx := context.Background()

	acct, err := store.CreateWalletAccount(ctx, wallet.Account{Address: "Player-One", Balance: 5, Active: true})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if _, err := store.CreateWalletAccount(ctx, wallet.Account{Address: "player-one"}); err == nil {
		t.Fatal("expected duplicate address error")
	}

	got, err := store.GetWalletAccountByAddress(ctx, " PLAYER-ONE ")
	if err != nil {
		t.Fatalf("get by address: %v", err)
	}
	if got.ID != acct.ID {
		t.Fatalf("lookup = %s, want %s", got.ID, acct.ID)
	}

	if _, err := store.GetWalletAccountByAddress(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing account error = %v, want ErrNotFound", err)
	}

	if _, err := store.CreateWalletTransaction(ctx, wallet.Transaction{Address: "player-one", Kind: wallet.TransactionDeposit, Amount: 5}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	txs, err := store.ListWalletTransactions(ctx, "Player-One")
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Kind != wallet.TransactionDeposit {
		t.Fatalf("transactions = %+v", txs)
	}
}
