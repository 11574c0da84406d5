package raffle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	walletsvc "github.com/R3E-Network/raffle_service/internal/app/services/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/storage/memory"
)

type stubRequester struct {
	n      int
	fail   bool
	failed []string
}

func (r *stubRequester) Request(ctx context.Context, roundID string, words int) (randomness.Request, error) {
	if r.fail {
		return randomness.Request{}, fmt.Errorf("oracle down")
	}
	r.n++
	return randomness.Request{
		ID:      fmt.Sprintf("req-%d", r.n),
		RoundID: roundID,
		Params:  randomness.Params{Words: words},
		Status:  randomness.RequestStatusPending,
	}, nil
}

func (r *stubRequester) Fail(ctx context.Context, requestID, reason string) (randomness.Request, error) {
	r.failed = append(r.failed, requestID)
	return randomness.Request{ID: requestID, Status: randomness.RequestStatusFailed, Error: reason}, nil
}

func newTestService(t *testing.T, interval time.Duration) (*Service, *walletsvc.Service, *stubRequester) {
	t.Helper()
	store := memory.New()
	bank := walletsvc.New(store, nil, nil)
	requester := &stubRequester{}
	svc := New(store, store, bank, requester, Config{
		EntranceFee: 1,
		Interval:    interval,
	}, nil, nil)
	if err := svc.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	return svc, bank, requester
}

func fund(t *testing.T, bank *walletsvc.Service, address string, balance float64) {
	t.Helper()
	if _, err := bank.CreateAccount(context.Background(), address, balance); err != nil {
		t.Fatalf("fund %s: %v", address, err)
	}
}

func TestService_EnterValidation(t *testing.T) {
	svc, bank, _ := newTestService(t, time.Hour)
	fund(t, bank, "alice", 10)

	if snap := svc.Snapshot(); snap.State != domain.StateOpen {
		t.Fatalf("fresh raffle state = %s, want open", snap.State)
	}

	if _, err := svc.Enter(context.Background(), "  ", 1); err == nil {
		t.Fatal("blank address should be rejected")
	}

	_, err := svc.Enter(context.Background(), "alice", 0.5)
	if !errors.Is(err, domain.ErrNotEnoughFunds) {
		t.Fatalf("expected not enough funds, got %v", err)
	}

	snap := svc.Snapshot()
	if snap.Participants != 0 || snap.Pool > Epsilon {
		t.Fatalf("rejected entry mutated state: %+v", snap)
	}
	acct, err := bank.GetAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if math.Abs(acct.Balance-10) > Epsilon {
		t.Fatalf("rejected entry moved funds: %v", acct.Balance)
	}
}

func TestService_EnterRejectedWhileCalculating(t *testing.T) {
	svc, bank, _ := newTestService(t, 10*time.Millisecond)
	fund(t, bank, "alice", 10)

	if _, err := svc.Enter(context.Background(), "alice", 1); err != nil {
		t.Fatalf("enter: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.PerformUpkeep(context.Background()); err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	_, err := svc.Enter(context.Background(), "alice", 1)
	if !errors.Is(err, domain.ErrRaffleNotOpen) {
		t.Fatalf("expected raffle not open, got %v", err)
	}
	acct, _ := bank.GetAccount(context.Background(), "alice")
	if math.Abs(acct.Balance-9) > 1e-6 {
		t.Fatalf("rejected entry moved funds: %v", acct.Balance)
	}
}

func TestService_EnterAccumulatesPool(t *testing.T) {
	svc, bank, _ := newTestService(t, time.Hour)
	fund(t, bank, "alice", 10)
	fund(t, bank, "bob", 10)

	if _, err := svc.Enter(context.Background(), "alice", 1); err != nil {
		t.Fatalf("enter alice: %v", err)
	}
	// Overpaying is allowed and the full amount joins the pool.
	if _, err := svc.Enter(context.Background(), "bob", 2.5); err != nil {
		t.Fatalf("enter bob: %v", err)
	}

	snap := svc.Snapshot()
	if snap.Participants != 2 {
		t.Fatalf("participants = %d, want 2", snap.Participants)
	}
	if math.Abs(snap.Pool-3.5) > 1e-6 {
		t.Fatalf("pool = %v, want 3.5", snap.Pool)
	}

	bobAcct, _ := bank.GetAccount(context.Background(), "bob")
	if math.Abs(bobAcct.Balance-7.5) > 1e-6 {
		t.Fatalf("bob balance = %v, want 7.5", bobAcct.Balance)
	}
}

func TestService_EnterInsufficientBalance(t *testing.T) {
	svc, bank, _ := newTestService(t, time.Hour)
	fund(t, bank, "poor", 0.5)

	_, err := svc.Enter(context.Background(), "poor", 1)
	if !errors.Is(err, walletsvc.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if snap := svc.Snapshot(); snap.Participants != 0 {
		t.Fatalf("failed collect recorded an entry: %+v", snap)
	}
}

func TestService_CheckUpkeepGates(t *testing.T) {
	svc, bank, _ := newTestService(t, 50*time.Millisecond)
	fund(t, bank, "alice", 10)

	// No participants yet.
	if status := svc.CheckUpkeep(); status.Needed {
		t.Fatalf("upkeep should not be needed on empty round: %+v", status)
	}

	if _, err := svc.Enter(context.Background(), "alice", 1); err != nil {
		t.Fatalf("enter: %v", err)
	}

	// Interval not elapsed.
	status := svc.CheckUpkeep()
	if status.Needed {
		t.Fatalf("upkeep should wait for the interval: %+v", status)
	}
	if status.Participants != 1 || status.State != domain.StateOpen {
		t.Fatalf("unexpected diagnostics: %+v", status)
	}

	time.Sleep(60 * time.Millisecond)
	status = svc.CheckUpkeep()
	if !status.Needed || !status.IntervalElapsed {
		t.Fatalf("upkeep should be needed after the interval: %+v", status)
	}

	if _, err := svc.PerformUpkeep(context.Background()); err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	// Draw already in flight.
	if status := svc.CheckUpkeep(); status.Needed {
		t.Fatalf("upkeep should not be needed while calculating: %+v", status)
	}
}

func TestService_PerformUpkeepNotNeeded(t *testing.T) {
	svc, _, requester := newTestService(t, time.Hour)

	_, err := svc.PerformUpkeep(context.Background())
	var notNeeded *domain.UpkeepNotNeededError
	if !errors.As(err, &notNeeded) {
		t.Fatalf("expected upkeep not needed, got %v", err)
	}
	if notNeeded.State != domain.StateOpen || notNeeded.Participants != 0 {
		t.Fatalf("unexpected diagnostics: %+v", notNeeded)
	}
	if requester.n != 0 {
		t.Fatalf("no randomness should be requested, got %d requests", requester.n)
	}
	if snap := svc.Snapshot(); snap.State != domain.StateOpen {
		t.Fatalf("failed upkeep changed state: %s", snap.State)
	}
}

func TestService_PerformUpkeepRequesterFailure(t *testing.T) {
	svc, bank, requester := newTestService(t, 10*time.Millisecond)
	fund(t, bank, "alice", 10)
	if _, err := svc.Enter(context.Background(), "alice", 1); err != nil {
		t.Fatalf("enter: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	requester.fail = true
	if _, err := svc.PerformUpkeep(context.Background()); err == nil {
		t.Fatal("perform upkeep should surface requester failure")
	}

	snap := svc.Snapshot()
	if snap.State != domain.StateOpen || snap.OutstandingRequest != "" {
		t.Fatalf("failed upkeep left partial state: %+v", snap)
	}

	requester.fail = false
	if _, err := svc.PerformUpkeep(context.Background()); err != nil {
		t.Fatalf("retry after requester recovery: %v", err)
	}
}

func TestService_FulfillPicksWinnerByModulo(t *testing.T) {
	svc, bank, _ := newTestService(t, 10*time.Millisecond)
	for _, addr := range []string{"a", "b", "c"} {
		fund(t, bank, addr, 10)
		if _, err := svc.Enter(context.Background(), addr, 1); err != nil {
			t.Fatalf("enter %s: %v", addr, err)
		}
	}
	time.Sleep(20 * time.Millisecond)

	round, err := svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}
	if round.RequestID == "" {
		t.Fatal("draw did not record a request id")
	}

	// 7 mod 3 = 1, so the second entrant wins. Extra words are ignored.
	if err := svc.FulfillRandomWords(context.Background(), round.RequestID, []uint64{7, 99}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	snap := svc.Snapshot()
	if snap.State != domain.StateOpen {
		t.Fatalf("raffle should reopen after payout: %s", snap.State)
	}
	if snap.RecentWinner != "b" {
		t.Fatalf("winner = %q, want b", snap.RecentWinner)
	}
	if snap.Participants != 0 || snap.Pool > Epsilon {
		t.Fatalf("ledger not cleared: %+v", snap)
	}
	if snap.RoundNumber != round.Number+1 {
		t.Fatalf("round number = %d, want %d", snap.RoundNumber, round.Number+1)
	}
	if snap.OutstandingRequest != "" {
		t.Fatalf("outstanding request should clear: %q", snap.OutstandingRequest)
	}

	// Winner receives the pool on top of the already-debited fee.
	acct, _ := bank.GetAccount(context.Background(), "b")
	if math.Abs(acct.Balance-12) > 1e-6 {
		t.Fatalf("winner balance = %v, want 12", acct.Balance)
	}

	settled, err := svc.GetRound(context.Background(), round.ID)
	if err != nil {
		t.Fatalf("get settled round: %v", err)
	}
	if settled.State != domain.StateSettled || settled.Winner != "b" {
		t.Fatalf("round not archived: %+v", settled)
	}
	if math.Abs(settled.Payout-3) > 1e-6 {
		t.Fatalf("payout = %v, want 3", settled.Payout)
	}
	if settled.CompletedAt.IsZero() {
		t.Fatal("completed_at not set")
	}

	// The fresh round starts from scratch: no residue makes it due early.
	if status := svc.CheckUpkeep(); status.Needed {
		t.Fatalf("new round should not be immediately due: %+v", status)
	}
}

func TestService_FulfillUnknownRequest(t *testing.T) {
	svc, bank, _ := newTestService(t, 10*time.Millisecond)
	fund(t, bank, "alice", 10)

	// Nothing outstanding while open.
	if err := svc.FulfillRandomWords(context.Background(), "req-1", []uint64{1}); !errors.Is(err, domain.ErrUnknownRequest) {
		t.Fatalf("expected unknown request while open, got %v", err)
	}

	if _, err := svc.Enter(context.Background(), "alice", 1); err != nil {
		t.Fatalf("enter: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	round, err := svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	if err := svc.FulfillRandomWords(context.Background(), "bogus", []uint64{1}); !errors.Is(err, domain.ErrUnknownRequest) {
		t.Fatalf("expected unknown request for mismatched id, got %v", err)
	}
	if err := svc.FulfillRandomWords(context.Background(), "", []uint64{1}); !errors.Is(err, domain.ErrUnknownRequest) {
		t.Fatalf("expected unknown request for blank id, got %v", err)
	}
	if err := svc.FulfillRandomWords(context.Background(), round.RequestID, nil); err == nil {
		t.Fatal("empty word delivery should fail")
	}

	snap := svc.Snapshot()
	if snap.State != domain.StateCalculating || snap.RecentWinner != "" {
		t.Fatalf("rejected fulfillment mutated state: %+v", snap)
	}

	// The matching delivery still works after the rejects.
	if err := svc.FulfillRandomWords(context.Background(), round.RequestID, []uint64{0}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
}

func TestService_PayoutFailureKeepsCalculating(t *testing.T) {
	svc, bank, _ := newTestService(t, 10*time.Millisecond)
	fund(t, bank, "dave", 10)
	if _, err := svc.Enter(context.Background(), "dave", 1); err != nil {
		t.Fatalf("enter: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	round, err := svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	// Freeze the inevitable winner so the payout fails.
	if _, err := bank.SetActive(context.Background(), "dave", false); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	err = svc.FulfillRandomWords(context.Background(), round.RequestID, []uint64{0})
	if !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected transfer failed, got %v", err)
	}

	snap := svc.Snapshot()
	if snap.State != domain.StateCalculating {
		t.Fatalf("failed payout should keep calculating: %s", snap.State)
	}
	if snap.RecentWinner != "" {
		t.Fatalf("failed payout recorded a winner: %q", snap.RecentWinner)
	}
	if math.Abs(snap.Pool-1) > 1e-6 || snap.Participants != 1 {
		t.Fatalf("failed payout drained the round: %+v", snap)
	}

	// The delivered words are recorded for the redrive.
	stuck, err := svc.GetRound(context.Background(), round.ID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if len(stuck.Words) == 0 {
		t.Fatal("delivered words not recorded")
	}

	// Redriving against the still-frozen account fails the same way.
	if _, err := svc.RedriveDraw(context.Background()); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected transfer failed on redrive, got %v", err)
	}

	if _, err := bank.SetActive(context.Background(), "dave", true); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := svc.RedriveDraw(context.Background()); err != nil {
		t.Fatalf("redrive after unfreeze: %v", err)
	}

	snap = svc.Snapshot()
	if snap.State != domain.StateOpen || snap.RecentWinner != "dave" {
		t.Fatalf("redrive did not settle: %+v", snap)
	}
	acct, _ := bank.GetAccount(context.Background(), "dave")
	if math.Abs(acct.Balance-10) > 1e-6 {
		t.Fatalf("winner balance = %v, want 10", acct.Balance)
	}
}

func TestService_AbortDraw(t *testing.T) {
	svc, bank, requester := newTestService(t, 10*time.Millisecond)
	fund(t, bank, "alice", 10)
	fund(t, bank, "bob", 10)
	for _, addr := range []string{"alice", "bob"} {
		if _, err := svc.Enter(context.Background(), addr, 1); err != nil {
			t.Fatalf("enter %s: %v", addr, err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	round, err := svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	reopened, cancelled, err := svc.AbortDraw(context.Background(), "oracle unreachable")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if cancelled != round.RequestID {
		t.Fatalf("cancelled request = %q, want %q", cancelled, round.RequestID)
	}
	if reopened.State != domain.StateOpen || reopened.RequestID != "" {
		t.Fatalf("round not reopened: %+v", reopened)
	}
	if len(requester.failed) != 1 || requester.failed[0] != cancelled {
		t.Fatalf("cancelled request not marked failed: %v", requester.failed)
	}

	snap := svc.Snapshot()
	if snap.Participants != 2 || math.Abs(snap.Pool-2) > 1e-6 {
		t.Fatalf("abort dropped entries: %+v", snap)
	}
	// The clock is untouched, so the overdue round is immediately
	// eligible for the next upkeep.
	if status := svc.CheckUpkeep(); !status.Needed {
		t.Fatalf("aborted round should be due for upkeep: %+v", status)
	}

	if _, _, err := svc.AbortDraw(context.Background(), "again"); !errors.Is(err, domain.ErrNoDrawInProgress) {
		t.Fatalf("expected no draw in progress, got %v", err)
	}
	if _, err := svc.RedriveDraw(context.Background()); !errors.Is(err, domain.ErrNoDrawInProgress) {
		t.Fatalf("redrive while open should fail, got %v", err)
	}
}

func TestService_AbortedRequestRejectedAsStale(t *testing.T) {
	svc, bank, _ := newTestService(t, 10*time.Millisecond)
	fund(t, bank, "alice", 10)
	if _, err := svc.Enter(context.Background(), "alice", 1); err != nil {
		t.Fatalf("enter: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	round, err := svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	// Nothing recorded yet, so there is nothing to redrive.
	if _, err := svc.RedriveDraw(context.Background()); err == nil || errors.Is(err, domain.ErrNoDrawInProgress) {
		t.Fatalf("redrive without words should fail plainly, got %v", err)
	}

	if _, _, err := svc.AbortDraw(context.Background(), "stuck"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	replacement, err := svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep after abort: %v", err)
	}
	if replacement.RequestID == round.RequestID || replacement.RequestID == "" {
		t.Fatalf("abort did not yield a fresh request: %q", replacement.RequestID)
	}

	// Words for the cancelled request arrive late and are rejected.
	if err := svc.FulfillRandomWords(context.Background(), round.RequestID, []uint64{1}); !errors.Is(err, domain.ErrUnknownRequest) {
		t.Fatalf("expected stale request rejection, got %v", err)
	}

	if err := svc.FulfillRandomWords(context.Background(), replacement.RequestID, []uint64{0}); err != nil {
		t.Fatalf("fulfill replacement: %v", err)
	}
	if snap := svc.Snapshot(); snap.RecentWinner != "alice" {
		t.Fatalf("winner = %q, want alice", snap.RecentWinner)
	}
}

func TestService_RestoreAcrossRestarts(t *testing.T) {
	store := memory.New()
	bank := walletsvc.New(store, nil, nil)
	requester := &stubRequester{}
	cfg := Config{EntranceFee: 1, Interval: 10 * time.Millisecond}

	first := New(store, store, bank, requester, cfg, nil, nil)
	if err := first.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	fund(t, bank, "alice", 10)
	fund(t, bank, "bob", 10)
	for _, addr := range []string{"alice", "bob"} {
		if _, err := first.Enter(context.Background(), addr, 1); err != nil {
			t.Fatalf("enter %s: %v", addr, err)
		}
	}
	time.Sleep(20 * time.Millisecond)
	round, err := first.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}

	// A new instance over the same store adopts the in-flight draw.
	second := New(store, store, bank, requester, cfg, nil, nil)
	if err := second.Restore(context.Background()); err != nil {
		t.Fatalf("restore second: %v", err)
	}

	snap := second.Snapshot()
	if snap.State != domain.StateCalculating {
		t.Fatalf("state after restart = %s, want calculating", snap.State)
	}
	if snap.OutstandingRequest != round.RequestID {
		t.Fatalf("outstanding request = %q, want %q", snap.OutstandingRequest, round.RequestID)
	}
	if snap.Participants != 2 || math.Abs(snap.Pool-2) > 1e-6 {
		t.Fatalf("ledger not restored: %+v", snap)
	}

	if err := second.FulfillRandomWords(context.Background(), round.RequestID, []uint64{1}); err != nil {
		t.Fatalf("fulfill on restored instance: %v", err)
	}
	if snap := second.Snapshot(); snap.RecentWinner != "bob" {
		t.Fatalf("winner = %q, want bob", snap.RecentWinner)
	}

	// A third restart picks up the recent winner from history.
	third := New(store, store, bank, requester, cfg, nil, nil)
	if err := third.Restore(context.Background()); err != nil {
		t.Fatalf("restore third: %v", err)
	}
	if snap := third.Snapshot(); snap.RecentWinner != "bob" {
		t.Fatalf("restored winner = %q, want bob", snap.RecentWinner)
	}
}

func TestService_EntriesCurrentAndHistorical(t *testing.T) {
	svc, bank, _ := newTestService(t, 10*time.Millisecond)
	fund(t, bank, "alice", 10)
	if _, err := svc.Enter(context.Background(), "alice", 1); err != nil {
		t.Fatalf("enter: %v", err)
	}

	current, err := svc.Entries(context.Background(), "")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(current) != 1 || current[0].Address != "alice" {
		t.Fatalf("unexpected current entries: %+v", current)
	}

	firstRound := svc.Snapshot().RoundID
	time.Sleep(20 * time.Millisecond)
	round, err := svc.PerformUpkeep(context.Background())
	if err != nil {
		t.Fatalf("perform upkeep: %v", err)
	}
	if err := svc.FulfillRandomWords(context.Background(), round.RequestID, []uint64{0}); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	historic, err := svc.Entries(context.Background(), firstRound)
	if err != nil {
		t.Fatalf("historic entries: %v", err)
	}
	if len(historic) != 1 {
		t.Fatalf("historic entries = %d, want 1", len(historic))
	}

	fresh, err := svc.Entries(context.Background(), "")
	if err != nil {
		t.Fatalf("fresh entries: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("new round should start empty, got %d", len(fresh))
	}

	rounds, err := svc.ListRounds(context.Background(), 10)
	if err != nil {
		t.Fatalf("list rounds: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("rounds = %d, want 2", len(rounds))
	}
}
