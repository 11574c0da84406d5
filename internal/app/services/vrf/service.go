// Package vrf coordinates randomness requests and their fulfillment.
//
// Requests are created when a draw starts and sit pending until a resolver
// produces random words. Delivery hands the words to the attached sink in a
// single call; the sink decides what the words mean.
package vrf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/events"
	"github.com/R3E-Network/raffle_service/internal/app/metrics"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// MaxWords caps the number of random words a single request may carry.
const MaxWords = 32

// Defaults applied when request params leave a field unset.
const (
	DefaultConfirmations    = 3
	DefaultCallbackGasLimit = 500000
)

// Sink consumes delivered random words.
type Sink interface {
	FulfillRandomWords(ctx context.Context, requestID string, words []uint64) error
}

// Service manages the randomness request lifecycle.
type Service struct {
	store  storage.RequestStore
	events *events.Log
	log    *logger.Logger

	mu     sync.Mutex
	sink   Sink
	params randomness.Params
}

// New constructs a randomness service.
func New(store storage.RequestStore, eventLog *events.Log, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("vrf")
	}
	return &Service{
		store:  store,
		events: eventLog,
		log:    log,
	}
}

// WithSink attaches the consumer that receives delivered words.
func (s *Service) WithSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// WithParams sets the oracle parameters stamped onto every request.
func (s *Service) WithParams(params randomness.Params) {
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
}

// Request records a pending randomness request for a round.
func (s *Service) Request(ctx context.Context, roundID string, words int) (randomness.Request, error) {
	roundID = strings.TrimSpace(roundID)
	if roundID == "" {
		return randomness.Request{}, fmt.Errorf("round_id is required")
	}
	if words <= 0 {
		words = 1
	}
	if words > MaxWords {
		return randomness.Request{}, fmt.Errorf("word count %d exceeds maximum %d", words, MaxWords)
	}

	s.mu.Lock()
	params := s.params
	s.mu.Unlock()
	params.Words = words
	if params.Confirmations <= 0 {
		params.Confirmations = DefaultConfirmations
	}
	if params.CallbackGasLimit <= 0 {
		params.CallbackGasLimit = DefaultCallbackGasLimit
	}

	req, err := s.store.CreateRequest(ctx, randomness.Request{
		RoundID: roundID,
		Params:  params,
		Status:  randomness.RequestStatusPending,
	})
	if err != nil {
		return randomness.Request{}, err
	}

	metrics.RecordRandomnessRequest(string(randomness.RequestStatusPending))
	s.publish(events.Event{
		Type:      events.TypeRandomnessRequested,
		RoundID:   roundID,
		RequestID: req.ID,
		Message:   fmt.Sprintf("requested %d random words", words),
	})
	s.log.WithField("request_id", req.ID).
		WithField("round_id", roundID).
		Info("randomness requested")
	return req, nil
}

// Fulfill delivers random words to the sink and settles the request.
//
// A payout failure downstream still consumes the words: the request is
// marked fulfilled with the delivered result so the draw can be redriven
// from stored words, and the sink error is returned to the caller.
func (s *Service) Fulfill(ctx context.Context, requestID string, words []uint64) (randomness.Request, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return randomness.Request{}, fmt.Errorf("request_id is required")
	}
	if len(words) == 0 {
		return randomness.Request{}, fmt.Errorf("at least one random word is required")
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return randomness.Request{}, err
	}
	if req.Status != randomness.RequestStatusPending {
		// Duplicate or replayed delivery; reject without touching the record.
		return randomness.Request{}, fmt.Errorf("request %s already %s: %w", req.ID, req.Status, raffle.ErrUnknownRequest)
	}

	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return randomness.Request{}, fmt.Errorf("no randomness consumer attached")
	}

	sinkErr := sink.FulfillRandomWords(ctx, req.ID, words)
	if sinkErr != nil && !errors.Is(sinkErr, raffle.ErrTransferFailed) {
		return s.settle(ctx, req, nil, sinkErr.Error()), sinkErr
	}

	errMsg := ""
	if sinkErr != nil {
		errMsg = sinkErr.Error()
	}
	return s.settle(ctx, req, words, errMsg), sinkErr
}

// Fail marks a pending request as failed without delivering words.
func (s *Service) Fail(ctx context.Context, requestID, reason string) (randomness.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return randomness.Request{}, err
	}
	if req.Status != randomness.RequestStatusPending {
		return randomness.Request{}, fmt.Errorf("request %s already %s", req.ID, req.Status)
	}
	return s.settle(ctx, req, nil, reason), nil
}

// Get retrieves a single request.
func (s *Service) Get(ctx context.Context, requestID string) (randomness.Request, error) {
	return s.store.GetRequest(ctx, requestID)
}

// List returns requests, optionally filtered by round.
func (s *Service) List(ctx context.Context, roundID string) ([]randomness.Request, error) {
	return s.store.ListRequests(ctx, roundID)
}

// ListPending returns requests awaiting fulfillment.
func (s *Service) ListPending(ctx context.Context) ([]randomness.Request, error) {
	return s.store.ListPendingRequests(ctx)
}

func (s *Service) settle(ctx context.Context, req randomness.Request, words []uint64, errMsg string) randomness.Request {
	if len(words) > 0 {
		req.Status = randomness.RequestStatusFulfilled
		req.Result = words
		req.FulfilledAt = time.Now().UTC()
	} else {
		req.Status = randomness.RequestStatusFailed
	}
	req.Error = errMsg

	updated, err := s.store.UpdateRequest(ctx, req)
	if err != nil {
		s.log.WithError(err).
			WithField("request_id", req.ID).
			Warn("persist request settlement failed")
		updated = req
	}

	metrics.RecordRandomnessRequest(string(updated.Status))
	eventType := events.TypeRandomnessFulfilled
	severity := events.SeverityInfo
	if updated.Status == randomness.RequestStatusFailed {
		eventType = events.TypeRandomnessFailed
		severity = events.SeverityError
	}
	s.publish(events.Event{
		Type:      eventType,
		Severity:  severity,
		RoundID:   updated.RoundID,
		RequestID: updated.ID,
		Message:   fmt.Sprintf("request settled as %s", updated.Status),
		Error:     errMsg,
	})
	s.log.WithField("request_id", updated.ID).
		WithField("status", string(updated.Status)).
		Info("randomness request settled")
	return updated
}

func (s *Service) publish(ev events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ev)
}
