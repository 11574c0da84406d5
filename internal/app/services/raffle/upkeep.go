package raffle

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/system"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

var _ system.Service = (*UpkeepRunner)(nil)

// UpkeepRunner drives the raffle clock. It periodically checks the upkeep
// conditions and performs upkeep when a draw is due, standing in for an
// external keeper network.
type UpkeepRunner struct {
	service *Service
	poll    time.Duration
	log     *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewUpkeepRunner creates a lifecycle-managed upkeep poller.
func NewUpkeepRunner(service *Service, poll time.Duration, log *logger.Logger) *UpkeepRunner {
	if log == nil {
		log = logger.NewDefault("raffle-upkeep")
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &UpkeepRunner{
		service: service,
		poll:    poll,
		log:     log,
	}
}

func (r *UpkeepRunner) Name() string { return "raffle-upkeep" }

func (r *UpkeepRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("raffle upkeep runner started")
	return nil
}

func (r *UpkeepRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("raffle upkeep runner stopped")
	return nil
}

func (r *UpkeepRunner) tick(ctx context.Context) {
	if r.service == nil {
		return
	}

	status := r.service.CheckUpkeep()
	if !status.Needed {
		return
	}

	tickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.service.PerformUpkeep(tickCtx); err != nil {
		// Another caller may have started the draw between check and
		// perform; that is not worth a warning.
		var notNeeded *domain.UpkeepNotNeededError
		if errors.As(err, &notNeeded) {
			return
		}
		r.log.WithError(err).Warn("perform upkeep failed")
	}
}
