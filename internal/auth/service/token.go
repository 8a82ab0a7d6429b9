package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aussiebroadwan/codegrant/internal/auth/audit"
	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/metrics"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/internal/auth/validate"
	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/idx"
	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

// ScopeOpenID requests an ID token.
const ScopeOpenID = "openid"

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// RefreshPolicy decides who gets refresh tokens and how they behave.
type RefreshPolicy struct {
	TTL time.Duration

	// Rotate revokes a refresh token on use and issues a replacement.
	Rotate bool

	// IssueToPublicClients extends refresh tokens to public clients, which
	// otherwise only receive access (and ID) tokens.
	IssueToPublicClients bool
}

// TokenService mints tokens for validated grants.
type TokenService struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	Hasher     cryptox.Hasher
	Issuer     string
	AccessTTL  time.Duration
	Policy     RefreshPolicy

	Auditor *audit.Auditor
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Now     func() time.Time
}

// RefreshRequest is a refresh_token grant.
type RefreshRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// Scope optionally narrows the grant. It can never widen it.
	Scope []string
}

// IssueTokens mints the token set for a consumed, validated code.
//
// An access token is always issued with exactly the code's scope. A
// refresh token is issued per RefreshPolicy and the client type. An ID token
// is issued when the scope includes openid and the authorization request
// carried a nonce, which is copied into it verbatim.
//
// Missing or failing key material returns ErrTokenSigningFailed. Signing
// happens before anything is persisted, so a signing failure leaves no
// refresh token behind.
func (s *TokenService) IssueTokens(ctx context.Context, code domain.AuthorizationCode, client domain.Client) (_ *domain.TokenGrant, err error) {
	ctx, span := tracerOrDefault(s.Tracer).Start(ctx, "TokenService.IssueTokens",
		trace.WithAttributes(
			attribute.String("oauth.client_id", client.ID),
			attribute.String("oauth.code_id", code.ID),
		))
	defer func() { endSpan(span, err) }()

	now := clock(s.Now)
	grant, err := s.signGrant(code.SubjectID, client.ID, code.Scopes, now)
	if err != nil {
		return nil, err
	}

	if slices.Contains(code.Scopes, ScopeOpenID) && code.Nonce != "" {
		grant.IDToken, err = s.sign(jwtx.NewIDClaims(s.Issuer, code.SubjectID, client.ID, code.Nonce,
			code.CreatedAt, s.accessTTL(), now))
		if err != nil {
			return nil, err
		}
	}

	if s.issuesRefresh(client) {
		grant.RefreshToken, err = s.persistRefresh(ctx, code.SubjectID, client.ID, code.ID, code.Scopes, now)
		if err != nil {
			return nil, err
		}
	}

	s.count(grant)
	slogx.FromContext(ctx).Debug("tokens issued",
		slog.String("client_id", client.ID),
		slog.Bool("refresh", grant.RefreshToken != ""),
		slog.Bool("id_token", grant.IDToken != ""),
	)
	return grant, nil
}

// Refresh exchanges a refresh token for a new access token.
//
// With rotation the presented token is revoked atomically on use and a
// replacement is returned; presenting a rotated token again is treated as
// theft, audited, and revokes every token descended from the same code.
// A scope can only be narrowed (ErrInvalidScope otherwise); every other
// refresh failure surfaces as ErrInvalidRefreshToken.
func (s *TokenService) Refresh(ctx context.Context, req RefreshRequest) (_ *domain.TokenGrant, err error) {
	ctx, span := tracerOrDefault(s.Tracer).Start(ctx, "TokenService.Refresh",
		trace.WithAttributes(attribute.String("oauth.client_id", req.ClientID)))
	defer func() { endSpan(span, err) }()

	client, err := authenticateClient(ctx, s.Store, s.Hasher, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		return nil, violated(ErrInvalidRefreshToken, "refresh_token missing")
	}
	hash := cryptox.FingerprintToken(raw)
	now := clock(s.Now)

	tok, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrInvalidRefreshToken
	case err != nil:
		return nil, storeUnavailable(err)
	case tok.ClientID != client.ID:
		return nil, violated(ErrInvalidRefreshToken, "token was issued to another client")
	}

	// Scopes never change on a stored token, so narrowing is checked before
	// the token is spent.
	scopes := tok.Scopes
	if len(req.Scope) > 0 {
		if v := validate.ScopeSubset(req.Scope, tok.Scopes); v != nil {
			return nil, violated(ErrInvalidScope, v.Rule)
		}
		scopes = dedupe(req.Scope)
	}

	if s.Policy.Rotate {
		_, err = s.Store.RefreshTokens().ConsumeRefreshToken(ctx, hash, now)
		switch {
		case errors.Is(err, store.ErrTokenRevoked):
			s.onRefreshReuse(ctx, tok, now)
			return nil, violated(ErrInvalidRefreshToken, "refresh token already used")
		case errors.Is(err, store.ErrTokenExpired), errors.Is(err, store.ErrNotFound):
			return nil, ErrInvalidRefreshToken
		case err != nil:
			return nil, storeUnavailable(err)
		}
	} else {
		if tok.Revoked() || !now.Before(tok.ExpiresAt) {
			return nil, ErrInvalidRefreshToken
		}
	}

	grant, err := s.signGrant(tok.SubjectID, client.ID, scopes, now)
	if err != nil {
		return nil, err
	}

	if s.Policy.Rotate {
		grant.RefreshToken, err = s.persistRefresh(ctx, tok.SubjectID, client.ID, tok.AuthorizationCodeID, tok.Scopes, now)
		if err != nil {
			return nil, err
		}
	}

	s.count(grant)
	s.Auditor.Emit(audit.Event{
		Type:      audit.EventTokenRefreshed,
		SubjectID: tok.SubjectID,
		ClientID:  client.ID,
		Details:   map[string]any{"rotated": s.Policy.Rotate},
		Timestamp: now,
	})
	return grant, nil
}

func (s *TokenService) onRefreshReuse(ctx context.Context, tok domain.RefreshToken, now time.Time) {
	s.Auditor.Emit(audit.Event{
		Type:      audit.EventRefreshTokenReuseDetected,
		SubjectID: tok.SubjectID,
		ClientID:  tok.ClientID,
		Details:   map[string]any{"token_id": tok.ID, "code_id": tok.AuthorizationCodeID},
		Timestamp: now,
	})
	if tok.AuthorizationCodeID == "" {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replayRevokeTimeout)
	defer cancel()
	if _, err := s.Store.RefreshTokens().RevokeByAuthorizationCode(rctx, tok.AuthorizationCodeID, now); err != nil {
		slogx.FromContext(ctx).Error("revoking token family failed",
			slog.String("code_id", tok.AuthorizationCodeID), slogx.Err(err))
	}
}

// Verify checks an access token issued by this service, judging expiry
// against the service clock.
func (s *TokenService) Verify(accessToken string) (*jwtx.AccessClaims, error) {
	if !s.KeyManager.IsReady() {
		return nil, ErrTokenSigningFailed
	}
	return s.KeyManager.Verifier.At(s.currentTime).VerifyAccess(accessToken)
}

// VerifyID checks an ID token issued by this service.
func (s *TokenService) VerifyID(idToken string) (*jwtx.IDClaims, error) {
	if !s.KeyManager.IsReady() {
		return nil, ErrTokenSigningFailed
	}
	return s.KeyManager.Verifier.At(s.currentTime).VerifyID(idToken)
}

func (s *TokenService) currentTime() time.Time { return clock(s.Now) }

func (s *TokenService) issuesRefresh(client domain.Client) bool {
	switch client.Type {
	case domain.ClientConfidential:
		return true
	case domain.ClientPublic:
		return s.Policy.IssueToPublicClients
	default:
		panic("service: unhandled client type " + client.Type.String())
	}
}

func (s *TokenService) signGrant(subject, clientID string, scopes []string, now time.Time) (*domain.TokenGrant, error) {
	ttl := s.accessTTL()
	access, err := s.sign(jwtx.NewAccessClaims(s.Issuer, subject, clientID, scopes, ttl, now))
	if err != nil {
		return nil, err
	}
	return &domain.TokenGrant{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl / time.Second),
		Scope:       strings.Join(scopes, " "),
		Scopes:      scopes,
		SubjectID:   subject,
		ClientID:    clientID,
		ExpiresAt:   now.Add(ttl),
	}, nil
}

func (s *TokenService) sign(claims jwt.Claims) (string, error) {
	signer := s.KeyManager.GetSigner()
	if signer == nil {
		return "", violated(ErrTokenSigningFailed, "no signing key available")
	}
	token, err := signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenSigningFailed, err)
	}
	return token, nil
}

func (s *TokenService) persistRefresh(ctx context.Context, subject, clientID, codeID string, scopes []string, now time.Time) (string, error) {
	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	err = s.Store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID:                  idx.NewAt(now).String(),
		TokenHash:           cryptox.FingerprintToken(raw),
		SubjectID:           subject,
		ClientID:            clientID,
		AuthorizationCodeID: codeID,
		Scopes:              scopes,
		ExpiresAt:           now.Add(s.refreshTTL()),
		CreatedAt:           now,
	})
	if err != nil {
		return "", storeUnavailable(err)
	}
	return raw, nil
}

func (s *TokenService) count(grant *domain.TokenGrant) {
	s.Metrics.TokenIssued("access")
	if grant.RefreshToken != "" {
		s.Metrics.TokenIssued("refresh")
	}
	if grant.IDToken != "" {
		s.Metrics.TokenIssued("id")
	}
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return DefaultAccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.Policy.TTL > 0 {
		return s.Policy.TTL
	}
	return DefaultRefreshTTL
}
