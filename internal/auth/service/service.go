// Package service implements the authorization-code state machine, token
// minting and idempotent bootstrap on top of store.Store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

const tracerName = "github.com/aussiebroadwan/codegrant/internal/auth/service"

func tracerOrDefault(t trace.Tracer) trace.Tracer {
	if t != nil {
		return t
	}
	return otel.Tracer(tracerName)
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}

// loadClient fetches an enabled client. Missing and disabled clients both
// map to notFound.
func loadClient(ctx context.Context, st store.Store, clientID string, notFound error) (domain.Client, error) {
	client, err := st.Clients().GetClientByID(ctx, clientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domain.Client{}, notFound
	case err != nil:
		return domain.Client{}, storeUnavailable(err)
	case client.Disabled:
		return domain.Client{}, notFound
	}
	return client, nil
}

// authenticateClient loads clientID and checks the presented secret
// according to the client's type.
func authenticateClient(ctx context.Context, st store.Store, hasher cryptox.Hasher, clientID, secret string) (domain.Client, error) {
	client, err := loadClient(ctx, st, clientID, ErrInvalidClient)
	if err != nil {
		return domain.Client{}, err
	}

	if client.AuthenticatesWithSecret() {
		if secret == "" || hasher.Verify(secret, client.SecretHash) != nil {
			slogx.FromContext(ctx).Info("client authentication failed", slog.String("client_id", clientID))
			return domain.Client{}, violated(ErrInvalidClient, "client authentication failed")
		}
		return client, nil
	}

	if secret != "" {
		return domain.Client{}, violated(ErrInvalidClient, "public client presented a secret")
	}
	return client, nil
}
