package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/codegrant/internal/auth/audit"
	httpapi "github.com/aussiebroadwan/codegrant/internal/auth/http"
	"github.com/aussiebroadwan/codegrant/internal/auth/metrics"
	"github.com/aussiebroadwan/codegrant/internal/auth/service"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/internal/auth/store/drivers/postgres"
	"github.com/aussiebroadwan/codegrant/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
	"github.com/aussiebroadwan/codegrant/pkg/shutdown"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

const (
	// BuildVersion is overridden at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the authorization core to its store, keys and ops
// surface. Its exported methods are the core's external interface.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db         store.Store
	keyManager *jwtx.KeyManager
	shutdown   *shutdown.Coordinator
	metrics    *metrics.Metrics
	auditor    *audit.Auditor

	tokenService        *service.TokenService
	codeService         *service.AuthorizationCodeService
	clientService       *service.ClientService
	bootstrapper        *service.Bootstrapper
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with every dependency initialized. The store
// is opened but not initialized; Run does that unless SkipBootstrap is set.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "codegrant",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		shutdown: shutdown.New(),
	}

	pepper, err := cryptox.LoadOrCreatePepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	keyManager, err := initKeys(cfg, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize JWT keys: %w", err)
	}
	app.keyManager = keyManager

	app.initServices(cryptox.Hasher{Pepper: pepper})
	app.initHTTP()

	return app, nil
}

// Run initializes the store, starts the background workers and the ops
// server, and blocks until SIGINT, SIGTERM or ShutdownTrigger.
func (app *Application) Run() error {
	if app.cfg.SkipBootstrap {
		app.logger.Warn("store bootstrap skipped")
	} else if err := app.InitializeStore(context.Background()); err != nil {
		_ = app.Shutdown()
		return err
	}

	app.housekeepingService.Start()

	app.logger.Info("codegrant starting", slog.Int("port", app.cfg.Port), slog.String("version", BuildVersion))

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-signals:
		app.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case <-app.shutdown.Done():
		app.logger.Info("shutdown triggered")
	}

	if err := app.Shutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting core operations, waits up to the grace period
// for in-flight ones, then stops the server, workers and store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down codegrant...")
	app.shutdown.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.shutdown.Drain(ctx); err != nil {
		app.logger.Warn("in-flight operations did not finish before the deadline",
			slog.Int("in_flight", app.shutdown.InFlight()))
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", slogx.Err(err))
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", slogx.Err(err))
		}
	}

	app.housekeepingService.Stop()
	app.auditor.Close()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", slogx.Err(err))
		return err
	}

	app.logger.Info("codegrant stopped")
	return nil
}

func (app *Application) initDatabase() error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.StoreDriver {
	case DriverPostgres:
		db, err = postgres.NewStore(app.cfg.DatabaseURL)
	default:
		db, err = sqlite.NewStore(app.cfg.DatabaseFile)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", app.cfg.StoreDriver, err)
	}
	app.db = db
	app.logger.Info("store opened", slog.String("driver", app.cfg.StoreDriver))
	return nil
}

func (app *Application) initServices(hasher cryptox.Hasher) {
	app.metrics = metrics.New(func() float64 { return float64(app.shutdown.InFlight()) })

	app.auditor = audit.New(app.logger, audit.Options{
		Buffer:      app.cfg.AuditBuffer,
		PerKeyRate:  rate.Every(time.Second),
		PerKeyBurst: 10,
	})
	app.auditor.OnDrop = app.metrics.AuditEventDropped

	app.tokenService = &service.TokenService{
		KeyManager: app.keyManager,
		Store:      app.db,
		Hasher:     hasher,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTTL,
		Policy: service.RefreshPolicy{
			TTL:                  app.cfg.RefreshTTL,
			Rotate:               app.cfg.RefreshRotate,
			IssueToPublicClients: app.cfg.RefreshPublicClients,
		},
		Auditor: app.auditor,
		Metrics: app.metrics,
	}

	app.codeService = &service.AuthorizationCodeService{
		Store:          app.db,
		Tokens:         app.tokenService,
		Hasher:         hasher,
		CodeTTL:        app.cfg.CodeTTL,
		AllowPlainPKCE: app.cfg.AllowPlainPKCE,
		Auditor:        app.auditor,
		Metrics:        app.metrics,
	}

	app.clientService = &service.ClientService{
		Store:   app.db,
		Hasher:  hasher,
		Auditor: app.auditor,
	}

	app.bootstrapper = &service.Bootstrapper{
		Store:   app.db,
		Hasher:  hasher,
		Seed:    app.cfg.SeedData(),
		Auditor: app.auditor,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.metrics,
		app.cfg.HousekeepingInterval,
		service.DefaultConsumedRetention,
	)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager.KeySet,
		BuildVersion,
		app.db,
		app.shutdown,
		app.logger,
	)
	router.Metrics = app.metrics.Handler()
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
