// Package raffle implements the autonomous raffle lifecycle.
//
// The raffle alternates between two live states. While open it accepts paid
// entries; once the draw interval elapses with at least one participant and
// a non-empty pool, upkeep moves it to calculating and requests randomness.
// Delivered words pick the winner by modulo over the entry ledger, the pool
// is paid out, and a fresh round opens with a reset clock. A failed payout
// leaves the round in calculating for operator recovery.
package raffle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/domain/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/events"
	"github.com/R3E-Network/raffle_service/internal/app/metrics"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Epsilon bounds float comparisons on fees and pool balances.
const Epsilon = 1e-9

// Bank moves entry fees and prizes between participant accounts.
type Bank interface {
	Collect(ctx context.Context, address string, amount float64, reference string) (wallet.Transaction, error)
	Refund(ctx context.Context, address string, amount float64, reference string) (wallet.Transaction, error)
	Pay(ctx context.Context, address string, amount float64, reference string) (wallet.Transaction, error)
}

// Requester issues randomness requests for a round and can mark an
// outstanding request as failed when its draw is abandoned.
type Requester interface {
	Request(ctx context.Context, roundID string, words int) (randomness.Request, error)
	Fail(ctx context.Context, requestID, reason string) (randomness.Request, error)
}

// Config carries the raffle parameters fixed at construction.
type Config struct {
	EntranceFee float64
	Interval    time.Duration
	Words       int
}

// Service owns the live raffle state. The current round and its entry
// ledger are held in memory under one mutex; stores journal every change
// and rehydrate the state on restart.
type Service struct {
	rounds    storage.RoundStore
	entries   storage.EntryStore
	bank      Bank
	requester Requester
	events    *events.Log
	log       *logger.Logger

	entranceFee float64
	interval    time.Duration
	words       int

	mu           sync.Mutex
	current      domain.Round
	ledger       []domain.Entry
	recentWinner string
	lastDrawAt   time.Time
	drawStarted  time.Time
}

// New constructs a raffle service.
func New(rounds storage.RoundStore, entries storage.EntryStore, bank Bank, requester Requester, cfg Config, eventLog *events.Log, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("raffle")
	}
	if cfg.EntranceFee <= 0 {
		cfg.EntranceFee = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Words <= 0 {
		cfg.Words = 1
	}
	return &Service{
		rounds:      rounds,
		entries:     entries,
		bank:        bank,
		requester:   requester,
		events:      eventLog,
		log:         log,
		entranceFee: cfg.EntranceFee,
		interval:    cfg.Interval,
		words:       cfg.Words,
	}
}

// Restore rehydrates the live state from the stores, opening round one on
// a fresh installation. It must be called before the service takes traffic.
func (s *Service) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.rounds.GetLatestRound(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return s.openRoundLocked(ctx, 1)
	}
	if err != nil {
		return fmt.Errorf("load latest round: %w", err)
	}

	if latest.State == domain.StateSettled {
		s.recentWinner = latest.Winner
		s.lastDrawAt = latest.CompletedAt
		return s.openRoundLocked(ctx, latest.Number+1)
	}

	entries, err := s.entries.ListEntries(ctx, latest.ID)
	if err != nil {
		return fmt.Errorf("load entries for round %s: %w", latest.ID, err)
	}

	pool := 0.0
	for _, entry := range entries {
		pool += entry.FeePaid
	}
	if latest.Pool > pool+Epsilon || latest.Pool < pool-Epsilon {
		s.log.WithField("round_id", latest.ID).
			WithField("stored_pool", latest.Pool).
			WithField("entry_sum", pool).
			Warn("stored pool disagrees with entry ledger; using entry sum")
	}
	latest.Pool = pool
	latest.Entries = len(entries)

	s.current = latest
	s.ledger = entries
	if latest.State == domain.StateCalculating {
		s.drawStarted = latest.DrawAt
	}
	s.restoreWinnerLocked(ctx)

	metrics.SetRoundGauges(s.current.Pool, len(s.ledger))
	s.log.WithField("round_id", s.current.ID).
		WithField("round_number", s.current.Number).
		WithField("state", string(s.current.State)).
		WithField("participants", len(s.ledger)).
		Info("raffle state restored")
	return nil
}

// Enter records a paid entry for the current round. The fee is validated
// before the participant's balance is touched, so a rejected entry never
// moves funds.
func (s *Service) Enter(ctx context.Context, address string, feePaid float64) (domain.Entry, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Entry{}, fmt.Errorf("address is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if feePaid+Epsilon < s.entranceFee {
		return domain.Entry{}, fmt.Errorf("fee %.8f below entrance fee %.8f: %w", feePaid, s.entranceFee, domain.ErrNotEnoughFunds)
	}
	if s.current.State != domain.StateOpen {
		return domain.Entry{}, fmt.Errorf("round %s is %s: %w", s.current.ID, s.current.State, domain.ErrRaffleNotOpen)
	}

	if s.bank != nil {
		if _, err := s.bank.Collect(ctx, address, feePaid, s.current.ID); err != nil {
			return domain.Entry{}, fmt.Errorf("collect entry fee: %w", err)
		}
	}

	entry, err := s.entries.CreateEntry(ctx, domain.Entry{
		RoundID: s.current.ID,
		Address: address,
		FeePaid: feePaid,
	})
	if err != nil {
		if s.bank != nil {
			if _, rerr := s.bank.Refund(ctx, address, feePaid, s.current.ID); rerr != nil {
				s.log.WithError(rerr).
					WithField("address", address).
					Error("refund after failed entry persist failed")
			}
		}
		return domain.Entry{}, fmt.Errorf("persist entry: %w", err)
	}

	s.ledger = append(s.ledger, entry)
	s.current.Pool += feePaid
	s.current.Entries = len(s.ledger)
	s.journalRoundLocked(ctx)

	metrics.RecordEntry(s.current.Pool, len(s.ledger))
	s.publish(events.Event{
		Type:    events.TypeRaffleEntered,
		RoundID: s.current.ID,
		Address: address,
		Amount:  feePaid,
		Message: fmt.Sprintf("entry %d accepted", len(s.ledger)),
	})
	s.log.WithField("address", address).
		WithField("round_id", s.current.ID).
		WithField("pool", s.current.Pool).
		Info("raffle entry accepted")
	return entry, nil
}

// CheckUpkeep reports whether a draw is due. It never mutates state.
func (s *Service) CheckUpkeep() domain.UpkeepStatus {
	s.mu.Lock()
	status := s.checkUpkeepLocked(time.Now())
	s.mu.Unlock()

	metrics.RecordUpkeepCheck(status.Needed)
	return status
}

func (s *Service) checkUpkeepLocked(now time.Time) domain.UpkeepStatus {
	elapsed := now.Sub(s.current.OpenedAt) >= s.interval
	status := domain.UpkeepStatus{
		State:           s.current.State,
		Participants:    len(s.ledger),
		Pool:            s.current.Pool,
		IntervalElapsed: elapsed,
		NextDrawDue:     s.current.OpenedAt.Add(s.interval),
	}
	status.Needed = s.current.State == domain.StateOpen &&
		elapsed &&
		status.Participants > 0 &&
		status.Pool > Epsilon
	return status
}

// PerformUpkeep re-validates the upkeep conditions, moves the round to
// calculating and issues a randomness request. Nothing changes when the
// conditions do not hold.
func (s *Service) PerformUpkeep(ctx context.Context) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.checkUpkeepLocked(time.Now())
	if !status.Needed {
		return domain.Round{}, &domain.UpkeepNotNeededError{
			Balance:      status.Pool,
			Participants: status.Participants,
			State:        status.State,
		}
	}
	if s.requester == nil {
		return domain.Round{}, fmt.Errorf("no randomness requester attached")
	}

	req, err := s.requester.Request(ctx, s.current.ID, s.words)
	if err != nil {
		return domain.Round{}, fmt.Errorf("request randomness: %w", err)
	}

	s.current.State = domain.StateCalculating
	s.current.RequestID = req.ID
	s.current.DrawAt = time.Now().UTC()
	s.drawStarted = time.Now()
	s.journalRoundLocked(ctx)

	metrics.RecordDrawStarted()
	s.publish(events.Event{
		Type:      events.TypeRaffleWinnerRequested,
		RoundID:   s.current.ID,
		RequestID: req.ID,
		Message:   "draw started",
	})
	s.log.WithField("round_id", s.current.ID).
		WithField("request_id", req.ID).
		WithField("participants", len(s.ledger)).
		Info("draw started")
	return s.current, nil
}

// FulfillRandomWords consumes delivered random words for the outstanding
// draw. The first word picks the winner by modulo over the entry ledger.
// On payout failure the round stays in calculating with the words recorded
// so the draw can be redriven against the same winner.
func (s *Service) FulfillRandomWords(ctx context.Context, requestID string, words []uint64) error {
	requestID = strings.TrimSpace(requestID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.State != domain.StateCalculating || requestID == "" || requestID != s.current.RequestID {
		return fmt.Errorf("request %q does not match round %s: %w", requestID, s.current.ID, domain.ErrUnknownRequest)
	}
	if len(words) == 0 {
		return fmt.Errorf("no random words delivered for request %s", requestID)
	}
	if len(s.ledger) == 0 {
		return fmt.Errorf("round %s has no participants", s.current.ID)
	}

	s.current.Words = words
	return s.payoutLocked(ctx)
}

// AbortDraw cancels the outstanding draw and reopens the round with its
// entries, pool and clock intact, so an overdue round is immediately
// eligible for the next upkeep. The cancelled request is marked failed
// and its id returned; late words for it are rejected as unknown.
func (s *Service) AbortDraw(ctx context.Context, reason string) (domain.Round, string, error) {
	s.mu.Lock()

	if s.current.State != domain.StateCalculating {
		s.mu.Unlock()
		return domain.Round{}, "", domain.ErrNoDrawInProgress
	}

	cancelled := s.current.RequestID
	started := s.drawStarted

	s.current.State = domain.StateOpen
	s.current.RequestID = ""
	s.current.Words = nil
	s.current.DrawAt = time.Time{}
	s.drawStarted = time.Time{}
	s.journalRoundLocked(ctx)

	metrics.RecordDrawSettled("aborted", time.Since(started))
	s.publish(events.Event{
		Type:      events.TypeRaffleDrawAborted,
		Severity:  events.SeverityWarning,
		RoundID:   s.current.ID,
		RequestID: cancelled,
		Message:   reason,
	})
	s.log.WithField("round_id", s.current.ID).
		WithField("request_id", cancelled).
		WithField("reason", reason).
		Warn("draw aborted")
	round := s.current
	s.mu.Unlock()

	if s.requester != nil && cancelled != "" {
		if _, err := s.requester.Fail(ctx, cancelled, reason); err != nil {
			s.log.WithError(err).
				WithField("request_id", cancelled).
				Warn("mark cancelled randomness request failed")
		}
	}
	return round, cancelled, nil
}

// RedriveDraw retries the payout of a stuck draw against the recorded
// words, reaching the same winner as the failed attempt. A draw without
// recorded words has nothing to retry; abort it instead.
func (s *Service) RedriveDraw(ctx context.Context) (domain.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.State != domain.StateCalculating {
		return domain.Round{}, domain.ErrNoDrawInProgress
	}
	if len(s.current.Words) == 0 {
		return domain.Round{}, fmt.Errorf("no recorded words for request %s; abort the draw to restart", s.current.RequestID)
	}

	s.publish(events.Event{
		Type:      events.TypeRaffleDrawRedriven,
		RoundID:   s.current.ID,
		RequestID: s.current.RequestID,
		Message:   "payout retried from recorded words",
	})
	if err := s.payoutLocked(ctx); err != nil {
		return domain.Round{}, err
	}
	return s.current, nil
}

// Snapshot returns a read-only view of the live raffle.
func (s *Service) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Snapshot{
		State:              s.current.State,
		RoundID:            s.current.ID,
		RoundNumber:        s.current.Number,
		EntranceFee:        s.entranceFee,
		Interval:           s.interval,
		Pool:               s.current.Pool,
		Participants:       len(s.ledger),
		RecentWinner:       s.recentWinner,
		LastDrawAt:         s.lastDrawAt,
		NextDrawDue:        s.current.OpenedAt.Add(s.interval),
		OutstandingRequest: s.current.RequestID,
	}
}

// Entries lists the entries for a round. An empty round id means the
// current round, served from the in-memory ledger.
func (s *Service) Entries(ctx context.Context, roundID string) ([]domain.Entry, error) {
	roundID = strings.TrimSpace(roundID)

	s.mu.Lock()
	if roundID == "" || roundID == s.current.ID {
		entries := make([]domain.Entry, len(s.ledger))
		copy(entries, s.ledger)
		s.mu.Unlock()
		return entries, nil
	}
	s.mu.Unlock()

	return s.entries.ListEntries(ctx, roundID)
}

// GetRound retrieves a round by id.
func (s *Service) GetRound(ctx context.Context, roundID string) (domain.Round, error) {
	s.mu.Lock()
	if roundID == s.current.ID {
		round := s.current
		s.mu.Unlock()
		return round, nil
	}
	s.mu.Unlock()

	return s.rounds.GetRound(ctx, roundID)
}

// ListRounds returns recent rounds, newest first.
func (s *Service) ListRounds(ctx context.Context, limit int) ([]domain.Round, error) {
	return s.rounds.ListRounds(ctx, limit)
}

// payoutLocked picks the winner from the recorded words, pays the pool and
// settles the round. The caller holds the mutex and has verified that the
// round is calculating with words and participants present.
func (s *Service) payoutLocked(ctx context.Context) error {
	idx := int(s.current.Words[0] % uint64(len(s.ledger)))
	winner := s.ledger[idx].Address
	prize := s.current.Pool

	if s.bank != nil {
		if _, err := s.bank.Pay(ctx, winner, prize, s.current.ID); err != nil {
			s.journalRoundLocked(ctx)
			metrics.RecordPayoutFailure()
			s.publish(events.Event{
				Type:      events.TypeRafflePayoutFailed,
				Severity:  events.SeverityError,
				RoundID:   s.current.ID,
				RequestID: s.current.RequestID,
				Address:   winner,
				Amount:    prize,
				Error:     err.Error(),
			})
			s.log.WithError(err).
				WithField("round_id", s.current.ID).
				WithField("winner", winner).
				Error("winner payout failed; round stays in calculating")
			return fmt.Errorf("pay %s: %w", winner, domain.ErrTransferFailed)
		}
	}

	now := time.Now().UTC()
	finished := s.current
	finished.State = domain.StateSettled
	finished.Winner = winner
	finished.Payout = prize
	finished.CompletedAt = now
	if _, err := s.rounds.UpdateRound(ctx, finished); err != nil {
		s.log.WithError(err).
			WithField("round_id", finished.ID).
			Warn("persist settled round failed")
	}

	s.recentWinner = winner
	s.lastDrawAt = now
	duration := time.Duration(0)
	if !s.drawStarted.IsZero() {
		duration = time.Since(s.drawStarted)
	}
	metrics.RecordDrawSettled("won", duration)
	s.publish(events.Event{
		Type:      events.TypeRaffleWinnerPicked,
		RoundID:   finished.ID,
		RequestID: finished.RequestID,
		Address:   winner,
		Amount:    prize,
		Message:   fmt.Sprintf("winner picked from %d entries", len(s.ledger)),
	})
	s.log.WithField("round_id", finished.ID).
		WithField("winner", winner).
		WithField("payout", prize).
		Info("winner picked and paid")

	if err := s.openRoundLocked(ctx, finished.Number+1); err != nil {
		// The payout already happened; keep the machine running on an
		// unpersisted round rather than failing the fulfillment.
		s.log.WithError(err).Error("open next round failed; continuing in memory")
		s.current = domain.Round{
			ID:          fmt.Sprintf("round-%d", finished.Number+1),
			Number:      finished.Number + 1,
			State:       domain.StateOpen,
			EntranceFee: s.entranceFee,
			OpenedAt:    now,
		}
		s.ledger = nil
		s.drawStarted = time.Time{}
		metrics.SetRoundGauges(0, 0)
	}
	return nil
}

// openRoundLocked starts a fresh round with an empty ledger and a reset
// clock. The caller holds the mutex.
func (s *Service) openRoundLocked(ctx context.Context, number int64) error {
	round, err := s.rounds.CreateRound(ctx, domain.Round{
		Number:      number,
		State:       domain.StateOpen,
		EntranceFee: s.entranceFee,
		OpenedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("open round %d: %w", number, err)
	}

	s.current = round
	s.ledger = nil
	s.drawStarted = time.Time{}

	metrics.SetRoundGauges(0, 0)
	s.log.WithField("round_id", round.ID).
		WithField("round_number", number).
		Info("round opened")
	return nil
}

// restoreWinnerLocked recovers the recent winner from round history.
func (s *Service) restoreWinnerLocked(ctx context.Context) {
	if s.recentWinner != "" {
		return
	}
	rounds, err := s.rounds.ListRounds(ctx, 50)
	if err != nil {
		s.log.WithError(err).Warn("load round history failed")
		return
	}
	for _, round := range rounds {
		if round.Winner != "" {
			s.recentWinner = round.Winner
			s.lastDrawAt = round.CompletedAt
			return
		}
	}
}

func (s *Service) journalRoundLocked(ctx context.Context) {
	if _, err := s.rounds.UpdateRound(ctx, s.current); err != nil {
		s.log.WithError(err).
			WithField("round_id", s.current.ID).
			Warn("persist round failed")
	}
}

func (s *Service) publish(ev events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ev)
}
