package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
)

func (f *fixture) exchangeConfidential(t *testing.T, scope ...string) *domain.TokenGrant {
	t.Helper()
	ctx := context.Background()
	issued, err := f.codes.IssueCode(ctx, IssueRequest{
		ClientID:    f.confidential.ID,
		RedirectURI: testRedirect,
		Scope:       scope,
		SubjectID:   "user-1",
	})
	require.NoError(t, err)
	grant, err := f.codes.Exchange(ctx, ExchangeRequest{
		Code:         issued.Code,
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RedirectURI:  testRedirect,
	})
	require.NoError(t, err)
	return grant
}

func (f *fixture) countRefreshTokens(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM refresh_tokens`).Scan(&n))
	return n
}

func TestIDTokenCarriesNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	verifier := oauth2.GenerateVerifier()
	issued, err := f.codes.IssueCode(ctx, IssueRequest{
		ClientID:      f.public.ID,
		RedirectURI:   testRedirect,
		Scope:         []string{ScopeOpenID, "read"},
		CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		Nonce:         "n-0S6_WzA2Mj",
		SubjectID:     "user-1",
	})
	require.NoError(t, err)

	grant, err := f.codes.Exchange(ctx, ExchangeRequest{
		Code:         issued.Code,
		ClientID:     f.public.ID,
		RedirectURI:  testRedirect,
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.NotEmpty(t, grant.IDToken)

	claims, err := f.tokens.VerifyID(grant.IDToken)
	require.NoError(t, err)
	require.Equal(t, "n-0S6_WzA2Mj", claims.Nonce)
	require.Equal(t, "user-1", claims.Subject)
}

func TestNoIDTokenWithoutNonce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, verifier := f.issuePublic(t, ScopeOpenID)
	grant, err := f.codes.Exchange(ctx, ExchangeRequest{
		Code:         code,
		ClientID:     f.public.ID,
		RedirectURI:  testRedirect,
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.Empty(t, grant.IDToken)
}

func TestVerifyUsesServiceClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code, verifier := f.issuePublic(t, "read")
	grant, err := f.codes.Exchange(ctx, ExchangeRequest{
		Code:         code,
		ClientID:     f.public.ID,
		RedirectURI:  testRedirect,
		CodeVerifier: verifier,
	})
	require.NoError(t, err)

	_, err = f.tokens.Verify(grant.AccessToken)
	require.NoError(t, err, "the fixture clock is years behind the wall clock")

	f.clock.Advance(DefaultAccessTTL + time.Minute)
	_, err = f.tokens.Verify(grant.AccessToken)
	require.Error(t, err)
}

func TestPublicClientsRefreshPolicy(t *testing.T) {
	f := newFixture(t)
	f.tokens.Policy.IssueToPublicClients = true
	ctx := context.Background()

	code, verifier := f.issuePublic(t, "read")
	grant, err := f.codes.Exchange(ctx, ExchangeRequest{
		Code:         code,
		ClientID:     f.public.ID,
		RedirectURI:  testRedirect,
		CodeVerifier: verifier,
	})
	require.NoError(t, err)
	require.NotEmpty(t, grant.RefreshToken)

	next, err := f.tokens.Refresh(ctx, RefreshRequest{ClientID: f.public.ID, RefreshToken: grant.RefreshToken})
	require.NoError(t, err)
	require.NotEmpty(t, next.AccessToken)
}

func TestRefreshRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.exchangeConfidential(t, "read", "write")
	require.Equal(t, 1, f.countRefreshTokens(t))

	f.clock.Advance(time.Minute)
	second, err := f.tokens.Refresh(ctx, RefreshRequest{
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.Equal(t, "read write", second.Scope)

	// Reusing the rotated token is theft: it fails and takes the
	// replacement down with it.
	_, err = f.tokens.Refresh(ctx, RefreshRequest{
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.tokens.Refresh(ctx, RefreshRequest{
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RefreshToken: second.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
	require.Contains(t, f.auditEvents(), "refresh_token_reuse_detected")
}

func TestRefreshWithoutRotation(t *testing.T) {
	f := newFixture(t)
	f.tokens.Policy = RefreshPolicy{TTL: time.Hour}
	ctx := context.Background()

	grant := f.exchangeConfidential(t, "read")
	req := RefreshRequest{ClientID: f.confidential.ID, ClientSecret: f.secret, RefreshToken: grant.RefreshToken}

	for range 2 {
		next, err := f.tokens.Refresh(ctx, req)
		require.NoError(t, err)
		require.Empty(t, next.RefreshToken)
	}

	f.clock.Advance(time.Hour)
	_, err := f.tokens.Refresh(ctx, req)
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grant := f.exchangeConfidential(t, "read", "write")

	_, err := f.tokens.Refresh(ctx, RefreshRequest{
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RefreshToken: grant.RefreshToken,
		Scope:        []string{"read", "admin"},
	})
	require.ErrorIs(t, err, ErrInvalidScope)

	// A rejected widening leaves the token usable.
	next, err := f.tokens.Refresh(ctx, RefreshRequest{
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RefreshToken: grant.RefreshToken,
	})
	require.NoError(t, err)
	require.Equal(t, "read write", next.Scope)
}

func TestRefreshNarrowsScope(t *testing.T) {
	f := newFixture(t)

	grant := f.exchangeConfidential(t, "read", "write")
	next, err := f.tokens.Refresh(context.Background(), RefreshRequest{
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RefreshToken: grant.RefreshToken,
		Scope:        []string{"read"},
	})
	require.NoError(t, err)
	require.Equal(t, "read", next.Scope)
}

func TestRefreshRejectsOtherClient(t *testing.T) {
	f := newFixture(t)
	f.tokens.Policy.IssueToPublicClients = true

	grant := f.exchangeConfidential(t, "read")
	_, err := f.tokens.Refresh(context.Background(), RefreshRequest{
		ClientID:     f.public.ID,
		RefreshToken: grant.RefreshToken,
	})
	require.ErrorIs(t, err, ErrInvalidRefreshToken)

	_, err = f.tokens.Refresh(context.Background(), RefreshRequest{
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RefreshToken: "unknown",
	})
	require.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestSigningFailure(t *testing.T) {
	f := newFixture(t)
	f.tokens.KeyManager = nil
	ctx := context.Background()

	issued, err := f.codes.IssueCode(ctx, IssueRequest{
		ClientID:    f.confidential.ID,
		RedirectURI: testRedirect,
		Scope:       []string{"read"},
		SubjectID:   "user-1",
	})
	require.NoError(t, err)

	_, err = f.codes.Exchange(ctx, ExchangeRequest{
		Code:         issued.Code,
		ClientID:     f.confidential.ID,
		ClientSecret: f.secret,
		RedirectURI:  testRedirect,
	})
	require.ErrorIs(t, err, ErrTokenSigningFailed)
	require.False(t, IsRetryable(err))
	require.Zero(t, f.countRefreshTokens(t), "nothing persisted after a signing failure")

	_, err = f.tokens.Verify("anything")
	require.ErrorIs(t, err, ErrTokenSigningFailed)
}
