// Package runtime assembles the configured application and manages the
// HTTP server lifecycle.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app"
	"github.com/R3E-Network/raffle_service/internal/app/httpapi"
	"github.com/R3E-Network/raffle_service/internal/app/storage/postgres"
	"github.com/R3E-Network/raffle_service/internal/config"
	"github.com/R3E-Network/raffle_service/internal/middleware"
	"github.com/R3E-Network/raffle_service/internal/platform/database"
	"github.com/R3E-Network/raffle_service/internal/platform/migrations"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	handler http.Handler
	server  *http.Server
	db      *sql.DB
}

// NewApplication constructs an application from the environment.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig constructs an application from an explicit
// configuration.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	var (
		db     *sql.DB
		stores app.Stores
	)
	if cfg.Database.DSN != "" {
		var err error
		db, err = database.Open(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := migrations.Apply(context.Background(), db); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		store := postgres.New(db)
		stores = app.Stores{Rounds: store, Entries: store, Requests: store, Wallets: store}
		log.Info("postgres stores configured")
	} else {
		log.Warn("DATABASE_URL not set; state will not survive restarts")
	}

	application, err := app.New(stores, app.Settings{
		EntranceFee:      cfg.Raffle.EntranceFee,
		Interval:         cfg.Raffle.Interval,
		Words:            cfg.Raffle.Words,
		PollInterval:     cfg.Raffle.PollInterval,
		KeyHash:          cfg.Oracle.KeyHash,
		SubscriptionID:   cfg.Oracle.SubscriptionID,
		Confirmations:    cfg.Oracle.Confirmations,
		CallbackGasLimit: cfg.Oracle.CallbackGasLimit,
		BeaconURL:        cfg.Oracle.BeaconURL,
		BeaconWordsPath:  cfg.Oracle.BeaconWordsPath,
		BeaconAPIKey:     cfg.Oracle.BeaconAPIKey,
		ResolverDelay:    cfg.Oracle.ResolverDelay,
	}, log)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("build application: %w", err)
	}

	var audit *httpapi.AuditLog
	switch {
	case db != nil:
		audit = httpapi.NewAuditLog(cfg.Audit.Size, httpapi.NewPostgresAuditSink(db))
	case cfg.Audit.File != "":
		sink, err := httpapi.NewFileAuditSink(cfg.Audit.File)
		if err != nil {
			log.WithError(err).Warn("open audit file failed; keeping audit in memory only")
			audit = httpapi.NewAuditLog(cfg.Audit.Size, nil)
		} else {
			audit = httpapi.NewAuditLog(cfg.Audit.Size, sink)
		}
	default:
		audit = httpapi.NewAuditLog(cfg.Audit.Size, nil)
	}

	opts := httpapi.Options{Audit: audit}
	if cfg.Auth.ServiceSecret != "" {
		serviceAuth := middleware.NewServiceAuthMiddleware(middleware.ServiceAuthConfig{
			Secret:          cfg.Auth.ServiceSecret,
			Logger:          log,
			AllowedServices: cfg.Auth.AllowedServices,
		})
		opts.FulfillGuard = serviceAuth.Handler
	} else {
		log.Warn("AUTH_SERVICE_SECRET not set; fulfillment endpoint is unauthenticated")
	}

	var handler http.Handler = httpapi.NewHandler(application, opts, log)

	// Outermost first: CORS, tracing, rate limiting, then user auth. The
	// fulfillment and stream endpoints carry their own protection.
	if cfg.Auth.JWTSecret != "" {
		auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, log, []string{
			"/healthz",
			"/metrics",
			"/vrf/fulfillments",
			"/events/stream",
		})
		handler = auth.Handler(handler)
	} else {
		log.Warn("AUTH_JWT_SECRET not set; API authentication disabled")
	}
	if cfg.Auth.RateLimitPerSecond > 0 {
		limiter := middleware.NewRateLimitMiddleware(cfg.Auth.RateLimitPerSecond, cfg.Auth.RateLimitBurst, log)
		limiter.StartCleanup(time.Minute)
		handler = limiter.Handler(handler)
	}
	handler = middleware.NewTracingMiddleware(log).Handler(handler)
	handler = middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins).Handler(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		app:     application,
		handler: handler,
		server:  server,
		db:      db,
	}, nil
}

// App exposes the assembled application services.
func (a *Application) App() *app.Application {
	return a.app
}

// Handler exposes the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Run starts the background services and the HTTP server, blocking until
// the context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr())
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, the background services and the
// database connection.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("http server shutdown failed")
	}

	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("stopping background services failed")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}

	return nil
}
