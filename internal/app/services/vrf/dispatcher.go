package vrf

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/system"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Dispatcher polls pending randomness requests and fulfills them using the
// configured resolver.
type Dispatcher struct {
	service  *Service
	resolver Resolver
	interval time.Duration
	log      *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*Dispatcher)(nil)

// NewDispatcher constructs a lifecycle-managed fulfillment poller.
func NewDispatcher(service *Service, resolver Resolver, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("vrf-dispatcher")
	}
	return &Dispatcher{
		service:     service,
		resolver:    resolver,
		interval:    5 * time.Second,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (d *Dispatcher) Name() string { return "vrf-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	if d.resolver == nil {
		d.log.Warn("randomness resolver not configured; dispatcher disabled")
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.tick(runCtx)
			}
		}
	}()

	d.log.Info("vrf dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (d *Dispatcher) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pending, err := d.service.ListPending(tickCtx)
	if err != nil {
		d.log.WithError(err).Warn("list pending randomness requests failed")
		return
	}

	now := time.Now()
	for _, req := range pending {
		if !d.shouldAttempt(req.ID, now) {
			continue
		}

		done, words, errMsg, retryAfter, err := d.resolver.Resolve(tickCtx, req)
		if err != nil {
			d.log.WithError(err).Warnf("resolver error for request %s", req.ID)
			d.scheduleNext(req.ID, retryAfter)
			continue
		}

		if !done {
			d.scheduleNext(req.ID, retryAfter)
			continue
		}

		if len(words) == 0 {
			if _, err := d.service.Fail(tickCtx, req.ID, errMsg); err != nil {
				d.log.WithError(err).Warnf("fail request %s failed", req.ID)
				d.scheduleNext(req.ID, retryAfter)
				continue
			}
			d.clearSchedule(req.ID)
			continue
		}

		updated, err := d.service.Fulfill(tickCtx, req.ID, words)
		if err != nil {
			d.log.WithError(err).Warnf("fulfill request %s failed", req.ID)
			if updated.Status == randomness.RequestStatusPending || updated.ID == "" {
				d.scheduleNext(req.ID, retryAfter)
				continue
			}
		}
		d.log.Infof("request %s fulfilled with %d words", req.ID, len(words))
		d.clearSchedule(req.ID)
	}
}

func (d *Dispatcher) shouldAttempt(id string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, ok := d.nextAttempt[id]
	if !ok || now.After(next) {
		return true
	}
	return false
}

func (d *Dispatcher) scheduleNext(id string, after time.Duration) {
	if after <= 0 {
		after = d.interval
	}
	d.mu.Lock()
	d.nextAttempt[id] = time.Now().Add(after)
	d.mu.Unlock()
}

func (d *Dispatcher) clearSchedule(id string) {
	d.mu.Lock()
	delete(d.nextAttempt, id)
	d.mu.Unlock()
}
