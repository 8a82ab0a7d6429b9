package app

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/service"
)

// IssueCode validates an authorization request and returns a new code.
func (app *Application) IssueCode(ctx context.Context, req service.IssueRequest) (*service.IssuedCode, error) {
	done, ok := app.shutdown.Begin()
	if !ok {
		return nil, service.ErrShuttingDown
	}
	defer done()

	return app.codeService.IssueCode(ctx, req)
}

// ConsumeCode redeems a code for tokens. Once shutdown has been triggered
// it returns ErrShuttingDown without touching the code.
func (app *Application) ConsumeCode(ctx context.Context, req service.ExchangeRequest) (*domain.TokenGrant, error) {
	done, ok := app.shutdown.Begin()
	if !ok {
		return nil, service.ErrShuttingDown
	}
	defer done()

	return app.codeService.Exchange(ctx, req)
}

// RefreshToken runs a refresh_token grant.
func (app *Application) RefreshToken(ctx context.Context, req service.RefreshRequest) (*domain.TokenGrant, error) {
	done, ok := app.shutdown.Begin()
	if !ok {
		return nil, service.ErrShuttingDown
	}
	defer done()

	return app.tokenService.Refresh(ctx, req)
}

// InitializeStore creates the schema and seeds it. Safe to call any number
// of times. Credentials generated by the run that created them are logged
// once, since they are never stored in clear.
func (app *Application) InitializeStore(ctx context.Context) error {
	res, err := app.bootstrapper.Initialize(ctx)
	if err != nil {
		return err
	}

	if res.GeneratedAdminPassword != "" {
		app.logger.Warn("generated bootstrap admin password, change it after first login",
			slog.String("username", app.cfg.AdminUsername),
			slog.String("password", res.GeneratedAdminPassword),
		)
	}
	for clientID, secret := range res.ClientSecrets {
		app.logger.Warn("generated client secret",
			slog.String("client_id", clientID),
			slog.String("client_secret", secret),
		)
	}
	return nil
}

// Clients exposes client registration management.
func (app *Application) Clients() *service.ClientService {
	return app.clientService
}

// ShutdownTrigger stops new core operations from starting. Repeated calls
// are no-ops.
func (app *Application) ShutdownTrigger() {
	if app.shutdown.Trigger() {
		app.logger.Info("shutdown triggered", slog.Int("in_flight", app.shutdown.InFlight()))
	}
}

// ShutdownWait blocks until ShutdownTrigger has been called.
func (app *Application) ShutdownWait() {
	app.shutdown.Wait()
}

// ShutdownReset re-arms the coordinator. For tests only.
func (app *Application) ShutdownReset() {
	app.shutdown.Reset()
}
