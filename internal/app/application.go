package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/events"
	rafflesvc "github.com/R3E-Network/raffle_service/internal/app/services/raffle"
	vrfsvc "github.com/R3E-Network/raffle_service/internal/app/services/vrf"
	walletsvc "github.com/R3E-Network/raffle_service/internal/app/services/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/internal/app/storage/memory"
	"github.com/R3E-Network/raffle_service/internal/app/system"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Rounds   storage.RoundStore
	Entries  storage.EntryStore
	Requests storage.RequestStore
	Wallets  storage.WalletStore
}

// Settings carries the raffle parameters and oracle wiring options.
type Settings struct {
	EntranceFee  float64
	Interval     time.Duration
	Words        int
	PollInterval time.Duration

	KeyHash          string
	SubscriptionID   string
	Confirmations    int
	CallbackGasLimit int

	// BeaconURL selects the external randomness beacon. When empty the
	// service falls back to the local deterministic resolver.
	BeaconURL       string
	BeaconWordsPath string
	BeaconAPIKey    string
	ResolverDelay   time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Raffle  *rafflesvc.Service
	Wallets *walletsvc.Service
	VRF     *vrfsvc.Service
	Events  *events.Log
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, settings Settings, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Rounds == nil {
		stores.Rounds = mem
	}
	if stores.Entries == nil {
		stores.Entries = mem
	}
	if stores.Requests == nil {
		stores.Requests = mem
	}
	if stores.Wallets == nil {
		stores.Wallets = mem
	}

	manager := system.NewManager()
	eventLog := events.NewLog(1000)

	walletService := walletsvc.New(stores.Wallets, eventLog, log)
	vrfService := vrfsvc.New(stores.Requests, eventLog, log)
	vrfService.WithParams(randomness.Params{
		KeyHash:          settings.KeyHash,
		SubscriptionID:   settings.SubscriptionID,
		Confirmations:    settings.Confirmations,
		CallbackGasLimit: settings.CallbackGasLimit,
	})

	raffleService := rafflesvc.New(stores.Rounds, stores.Entries, walletService, vrfService, rafflesvc.Config{
		EntranceFee: settings.EntranceFee,
		Interval:    settings.Interval,
		Words:       settings.Words,
	}, eventLog, log)
	vrfService.WithSink(raffleService)

	var resolver vrfsvc.Resolver
	if endpoint := strings.TrimSpace(settings.BeaconURL); endpoint != "" {
		httpClient := &http.Client{Timeout: 10 * time.Second}
		beacon, err := vrfsvc.NewBeaconResolver(httpClient, endpoint, settings.BeaconWordsPath, settings.BeaconAPIKey, log)
		if err != nil {
			log.WithError(err).Warn("configure randomness beacon; falling back to local resolver")
		} else {
			resolver = beacon
		}
	} else {
		log.Warn("randomness beacon not configured; using local resolver")
	}
	if resolver == nil {
		resolver = vrfsvc.NewLocalResolver(settings.ResolverDelay, log)
	}

	services := []system.Service{
		rafflesvc.NewUpkeepRunner(raffleService, settings.PollInterval, log),
		vrfsvc.NewDispatcher(vrfService, resolver, log),
	}
	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager: manager,
		log:     log,
		Raffle:  raffleService,
		Wallets: walletService,
		VRF:     vrfService,
		Events:  eventLog,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start restores the raffle state and begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	if err := a.Raffle.Restore(ctx); err != nil {
		return fmt.Errorf("restore raffle state: %w", err)
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
