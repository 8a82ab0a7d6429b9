package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aussiebroadwan/codegrant/internal/auth/audit"
	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/metrics"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/internal/auth/validate"
	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/idx"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

// DefaultCodeTTL is used when AuthorizationCodeService.CodeTTL is zero.
const DefaultCodeTTL = 10 * time.Minute

// How long the replay response may spend revoking descendant tokens.
const replayRevokeTimeout = 2 * time.Second

// AuthorizationCodeService issues authorization codes and consumes each one
// at most once.
type AuthorizationCodeService struct {
	Store  store.Store
	Tokens *TokenService
	Hasher cryptox.Hasher

	CodeTTL        time.Duration
	AllowPlainPKCE bool

	Auditor *audit.Auditor
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
	Now     func() time.Time
}

// IssueRequest is an authorization request from an authenticated subject.
type IssueRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	SubjectID           string
}

// IssuedCode carries the opaque code. It is returned exactly once and only
// its fingerprint is stored.
type IssuedCode struct {
	Code      string
	ExpiresAt time.Time
}

// ConsumeRequest presents a code back for redemption.
type ConsumeRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeRequest is the token-endpoint form of a code redemption.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

// IssueCode validates req against the client's registration and persists a
// new authorization code.
//
// Checks run in a fixed order and the first failure is returned:
//
//   - ErrClientNotFound when the client is unknown or disabled
//   - ErrInvalidRedirectURI when redirect_uri is not an exact registered match
//   - ErrInvalidScope when the scope is empty or not within the allowed set
//   - ErrPKCERequired when a public client sends no code_challenge
//   - ErrInvalidCodeChallengeFormat when a challenge or its method is malformed
//   - ErrInvalidRequest when no subject is given
//
// Nothing is written unless every check passes.
func (s *AuthorizationCodeService) IssueCode(ctx context.Context, req IssueRequest) (_ *IssuedCode, err error) {
	ctx, span := tracerOrDefault(s.Tracer).Start(ctx, "AuthorizationCodeService.IssueCode",
		trace.WithAttributes(attribute.String("oauth.client_id", req.ClientID)))
	defer func() {
		s.Metrics.CodeIssued(Kind(err))
		endSpan(span, err)
	}()

	client, err := loadClient(ctx, s.Store, req.ClientID, ErrClientNotFound)
	if err != nil {
		return nil, err
	}

	if v := validate.RedirectURI(req.RedirectURI, client.RedirectURIs); v != nil {
		return nil, violated(ErrInvalidRedirectURI, v.Rule)
	}
	if v := validate.ScopeSubset(req.Scope, client.Scopes); v != nil {
		return nil, violated(ErrInvalidScope, v.Rule)
	}

	challenge, method, err := s.checkPKCE(client, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.SubjectID) == "" {
		return nil, violated(ErrInvalidRequest, "subject_id missing")
	}

	code, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	now := clock(s.Now)
	record := domain.AuthorizationCode{
		ID:                  idx.NewAt(now).String(),
		CodeHash:            cryptox.FingerprintToken(code),
		ClientID:            client.ID,
		SubjectID:           req.SubjectID,
		RedirectURI:         req.RedirectURI,
		Scopes:              dedupe(req.Scope),
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Nonce:               req.Nonce,
		ExpiresAt:           now.Add(s.codeTTL()),
		CreatedAt:           now,
	}
	if err := s.Store.AuthorizationCodes().CreateAuthorizationCode(ctx, record); err != nil {
		return nil, storeUnavailable(err)
	}

	slogx.FromContext(ctx).Debug("authorization code issued",
		slog.String("client_id", client.ID),
		slog.String("code_id", record.ID),
		slog.Bool("pkce", challenge != ""),
	)
	return &IssuedCode{Code: code, ExpiresAt: record.ExpiresAt}, nil
}

// checkPKCE returns the challenge and normalised method to store. Public
// clients must send a challenge; confidential clients may, and when they do
// it is held to the same format rules.
func (s *AuthorizationCodeService) checkPKCE(client domain.Client, challenge, method string) (string, string, error) {
	challenge = strings.TrimSpace(challenge)
	if challenge == "" {
		if client.RequiresPKCE() {
			return "", "", violated(ErrPKCERequired, "public clients must send code_challenge")
		}
		return "", "", nil
	}

	method = validate.NormalizeMethod(method)
	if v := validate.CodeChallenge(challenge, method, s.AllowPlainPKCE); v != nil {
		return "", "", violated(ErrInvalidCodeChallengeFormat, v.Rule)
	}
	return challenge, method, nil
}

func (s *AuthorizationCodeService) codeTTL() time.Duration {
	if s.CodeTTL > 0 {
		return s.CodeTTL
	}
	return DefaultCodeTTL
}

// ConsumeCode redeems a code exactly once and returns the validated record.
//
// The claim is a single atomic conditional update: among concurrent callers
// presenting the same code one wins and every other caller gets
// ErrCodeAlreadyConsumed. A code past its expiry is never claimed and yields
// ErrCodeExpired. An unknown code yields ErrCodeNotFound.
//
// A replayed code is treated as a theft signal. The attempt is audited and
// refresh tokens minted from the code are revoked, both best-effort; neither
// changes the error returned to the caller.
//
// After a successful claim the client, the redirect URI and the PKCE
// verifier are checked, returning ErrInvalidClient, ErrRedirectURIMismatch
// or ErrPKCEVerificationFailed. The code stays consumed whichever check
// fails, so a wrong verifier cannot be retried against it.
func (s *AuthorizationCodeService) ConsumeCode(ctx context.Context, req ConsumeRequest) (_ domain.AuthorizationCode, err error) {
	ctx, span := tracerOrDefault(s.Tracer).Start(ctx, "AuthorizationCodeService.ConsumeCode",
		trace.WithAttributes(attribute.String("oauth.client_id", req.ClientID)))
	defer func() {
		s.Metrics.CodeConsumed(Kind(err))
		endSpan(span, err)
	}()

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.AuthorizationCode{}, violated(ErrCodeNotFound, "code missing")
	}

	now := clock(s.Now)
	claimed, err := s.Store.AuthorizationCodes().ClaimAuthorizationCode(ctx, cryptox.FingerprintToken(code), now)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return domain.AuthorizationCode{}, ErrCodeNotFound
	case errors.Is(err, store.ErrCodeExpired):
		return domain.AuthorizationCode{}, ErrCodeExpired
	case errors.Is(err, store.ErrCodeConsumed):
		s.onReplay(ctx, claimed, req.ClientID, now)
		return domain.AuthorizationCode{}, ErrCodeAlreadyConsumed
	default:
		return domain.AuthorizationCode{}, storeUnavailable(err)
	}
	span.SetAttributes(attribute.String("oauth.code_id", claimed.ID))

	// Expiry was enforced by the claim itself.

	if claimed.ClientID != req.ClientID {
		return domain.AuthorizationCode{}, violated(ErrInvalidClient, "code was issued to another client")
	}

	if claimed.RedirectURI != req.RedirectURI {
		s.Auditor.Emit(audit.Event{
			Type:      audit.EventRedirectURIMismatch,
			SubjectID: claimed.SubjectID,
			ClientID:  claimed.ClientID,
			Timestamp: now,
		})
		return domain.AuthorizationCode{}, violated(ErrRedirectURIMismatch, "redirect_uri differs from authorization request")
	}

	if err := checkVerifier(claimed, req.CodeVerifier); err != nil {
		s.Auditor.Emit(audit.Event{
			Type:      audit.EventInvalidPKCE,
			SubjectID: claimed.SubjectID,
			ClientID:  claimed.ClientID,
			Timestamp: now,
		})
		return domain.AuthorizationCode{}, err
	}

	return claimed, nil
}

func checkVerifier(code domain.AuthorizationCode, verifier string) error {
	if !code.HasPKCE() {
		if verifier != "" {
			return violated(ErrPKCEVerificationFailed, "code_verifier sent for a code issued without PKCE")
		}
		return nil
	}
	if v := validate.VerifyCodeVerifier(code.CodeChallenge, code.CodeChallengeMethod, verifier); v != nil {
		return violated(ErrPKCEVerificationFailed, v.Rule)
	}
	return nil
}

// onReplay reacts to a second presentation of a consumed code.
func (s *AuthorizationCodeService) onReplay(ctx context.Context, code domain.AuthorizationCode, presentedBy string, now time.Time) {
	log := slogx.FromContext(ctx)
	s.Metrics.ReplayDetected()

	s.Auditor.Emit(audit.Event{
		Type:      audit.EventAuthorizationCodeReuseDetected,
		SubjectID: code.SubjectID,
		ClientID:  code.ClientID,
		Details: map[string]any{
			"code_id":      code.ID,
			"presented_by": presentedBy,
		},
		Timestamp: now,
	})

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replayRevokeTimeout)
	defer cancel()

	n, err := s.Store.RefreshTokens().RevokeByAuthorizationCode(rctx, code.ID, now)
	if err != nil {
		log.Error("revoking tokens after code replay failed", slog.String("code_id", code.ID), slogx.Err(err))
		return
	}
	if n > 0 {
		s.Auditor.Emit(audit.Event{
			Type:      audit.EventTokensRevokedAfterReuse,
			SubjectID: code.SubjectID,
			ClientID:  code.ClientID,
			Details:   map[string]any{"code_id": code.ID, "revoked": n},
			Timestamp: now,
		})
	}
	log.Warn("authorization code replay detected",
		slog.String("code_id", code.ID),
		slog.String("client_id", code.ClientID),
		slog.Int64("refresh_tokens_revoked", n),
	)
}

// Exchange authenticates the client, consumes the code and mints tokens.
// Client authentication happens before the claim so a caller without the
// secret cannot burn a confidential client's code.
func (s *AuthorizationCodeService) Exchange(ctx context.Context, req ExchangeRequest) (*domain.TokenGrant, error) {
	client, err := authenticateClient(ctx, s.Store, s.Hasher, req.ClientID, req.ClientSecret)
	if err != nil {
		if errors.Is(err, ErrInvalidClient) {
			s.Auditor.Emit(audit.Event{Type: audit.EventClientAuthFailure, ClientID: req.ClientID})
		}
		return nil, err
	}

	code, err := s.ConsumeCode(ctx, ConsumeRequest{
		Code:         req.Code,
		ClientID:     client.ID,
		RedirectURI:  req.RedirectURI,
		CodeVerifier: req.CodeVerifier,
	})
	if err != nil {
		return nil, err
	}

	return s.Tokens.IssueTokens(ctx, code, client)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
