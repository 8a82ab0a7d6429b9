package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/aussiebroadwan/codegrant/internal/auth/audit"
	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/internal/auth/validate"
	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/idx"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

// ClientService manages client registrations.
type ClientService struct {
	Store   store.Store
	Hasher  cryptox.Hasher
	Auditor *audit.Auditor
	Now     func() time.Time
}

type CreateClientRequest struct {
	Name         string
	Type         domain.ClientType
	RedirectURIs []string
	Scopes       []string
}

// CreateClient registers a client. For a confidential client a secret is
// generated and returned; it is shown once and only its hash is stored.
func (s *ClientService) CreateClient(ctx context.Context, req CreateClientRequest) (_ domain.Client, secret string, _ error) {
	l := slogx.FromContext(ctx)

	switch req.Type {
	case domain.ClientPublic, domain.ClientConfidential:
	default:
		return domain.Client{}, "", violated(ErrInvalidRequest, "unknown client type")
	}
	if err := checkRegistration(req.RedirectURIs, req.Scopes); err != nil {
		return domain.Client{}, "", err
	}

	now := clock(s.Now)
	c := domain.Client{
		ID:           idx.NewAt(now).String(),
		Name:         req.Name,
		Type:         req.Type,
		RedirectURIs: dedupe(req.RedirectURIs),
		Scopes:       dedupe(req.Scopes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if c.AuthenticatesWithSecret() {
		var err error
		secret, err = cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return domain.Client{}, "", err
		}
		c.SecretHash, err = s.Hasher.Hash(secret)
		if err != nil {
			return domain.Client{}, "", err
		}
	}

	if err := s.Store.Clients().CreateClient(ctx, c); err != nil {
		l.Error("failed to create client", slogx.Err(err))
		if errors.Is(err, store.ErrInvalidRecord) {
			return domain.Client{}, "", violated(ErrInvalidRequest, err.Error())
		}
		return domain.Client{}, "", storeUnavailable(err)
	}

	l.Info("client created", slog.String("client_id", c.ID), slog.String("type", c.Type.String()))
	return c, secret, nil
}

// ListClients returns every client, disabled ones included.
func (s *ClientService) ListClients(ctx context.Context) ([]domain.Client, error) {
	clients, err := s.Store.Clients().ListClients(ctx)
	if err != nil {
		return nil, storeUnavailable(err)
	}
	return clients, nil
}

// DisableClient stops a client from obtaining new codes or tokens. Codes
// already issued to it can no longer be exchanged. Seeded clients are
// protected and return ErrClientProtected.
func (s *ClientService) DisableClient(ctx context.Context, clientID string) error {
	c, err := s.Store.Clients().GetClientByID(ctx, clientID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrClientNotFound
	case err != nil:
		return storeUnavailable(err)
	case c.Protected:
		return ErrClientProtected
	}

	now := clock(s.Now)
	if err := s.Store.Clients().SetClientDisabled(ctx, clientID, true, now); err != nil {
		return storeUnavailable(err)
	}

	s.Auditor.Emit(audit.Event{Type: audit.EventClientDisabled, ClientID: clientID, Timestamp: now})
	slogx.FromContext(ctx).Info("client disabled", slog.String("client_id", clientID))
	return nil
}

// UpdateClientPolicy replaces the client's redirect URIs and allowed scopes.
// Codes already issued keep the scope they were issued with.
func (s *ClientService) UpdateClientPolicy(ctx context.Context, clientID string, redirectURIs, scopes []string) error {
	if err := checkRegistration(redirectURIs, scopes); err != nil {
		return err
	}

	err := s.Store.Clients().UpdateClientPolicy(ctx, clientID, dedupe(redirectURIs), dedupe(scopes), clock(s.Now))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrClientNotFound
	case err != nil:
		return storeUnavailable(err)
	}
	return nil
}

// checkRegistration requires absolute redirect URIs without fragments or
// whitespace, and at least one scope token.
func checkRegistration(redirectURIs, scopes []string) error {
	if len(redirectURIs) == 0 {
		return violated(ErrInvalidRedirectURI, "at least one redirect_uri required")
	}
	for _, raw := range redirectURIs {
		if !validate.SetMember(raw) {
			return violated(ErrInvalidRedirectURI, fmt.Sprintf("%q is empty or contains whitespace", raw))
		}
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return violated(ErrInvalidRedirectURI, fmt.Sprintf("%q is not an absolute URI", raw))
		}
		if u.Fragment != "" {
			return violated(ErrInvalidRedirectURI, fmt.Sprintf("%q has a fragment", raw))
		}
	}
	if len(scopes) == 0 {
		return violated(ErrInvalidScope, "at least one scope required")
	}
	for _, scope := range scopes {
		if !validate.SetMember(scope) {
			return violated(ErrInvalidScope, fmt.Sprintf("%q is not a single scope token", scope))
		}
	}
	return nil
}
