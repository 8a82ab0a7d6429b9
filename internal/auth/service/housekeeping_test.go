package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/slogx"
)

func TestHousekeepingRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One code left to expire, one consumed, one still live.
	expired, _ := f.issuePublic(t, "read")
	consumed, verifier := f.issuePublic(t, "read")
	_, err := f.codes.ConsumeCode(ctx, ConsumeRequest{Code: consumed, ClientID: f.public.ID, RedirectURI: testRedirect, CodeVerifier: verifier})
	require.NoError(t, err)

	f.clock.Advance(DefaultCodeTTL - time.Minute)
	live, _ := f.issuePublic(t, "read")
	f.clock.Advance(2 * time.Minute)

	hk := NewHousekeepingService(f.store, slogx.Discard(), f.metrics, time.Hour, time.Hour)
	hk.Now = f.clock.Now

	res := hk.RunOnce(ctx)
	require.EqualValues(t, 1, res.AuthorizationCodes, "only the expired code")

	// Consumed codes are kept for the retention window so a replay is still
	// recognised.
	_, err = f.codes.ConsumeCode(ctx, ConsumeRequest{Code: consumed, ClientID: f.public.ID, RedirectURI: testRedirect, CodeVerifier: verifier})
	require.ErrorIs(t, err, ErrCodeAlreadyConsumed)

	_, err = f.store.AuthorizationCodes().GetAuthorizationCodeByHash(ctx, cryptox.FingerprintToken(expired))
	require.Error(t, err)

	f.clock.Advance(time.Hour)
	res = hk.RunOnce(ctx)
	require.EqualValues(t, 2, res.AuthorizationCodes, "consumed past retention and the now-expired live code")
	_, err = f.store.AuthorizationCodes().GetAuthorizationCodeByHash(ctx, cryptox.FingerprintToken(live))
	require.Error(t, err)

	require.Equal(t, 3.0, testutil.ToFloat64(f.metrics.HousekeepingPurged.WithLabelValues("authorization_codes")))
}

func TestHousekeepingRefreshTokens(t *testing.T) {
	f := newFixture(t)
	f.tokens.Policy.TTL = time.Hour
	ctx := context.Background()

	f.exchangeConfidential(t, "read")
	require.Equal(t, 1, f.countRefreshTokens(t))

	hk := NewHousekeepingService(f.store, nil, nil, 0, 0)
	hk.Now = f.clock.Now
	require.Equal(t, DefaultHousekeepingInterval, hk.Interval)
	require.Equal(t, DefaultConsumedRetention, hk.ConsumedRetention)

	require.Zero(t, hk.RunOnce(ctx).RefreshTokens)

	f.clock.Advance(time.Hour)
	require.EqualValues(t, 1, hk.RunOnce(ctx).RefreshTokens)
	require.Zero(t, f.countRefreshTokens(t))
}

func TestHousekeepingStartStop(t *testing.T) {
	f := newFixture(t)
	hk := NewHousekeepingService(f.store, slogx.Discard(), f.metrics, time.Hour, 0)

	hk.Start()
	hk.Stop()
	hk.Stop()
}

func TestHousekeepingStopBeforeStart(t *testing.T) {
	f := newFixture(t)
	hk := NewHousekeepingService(f.store, nil, nil, 0, 0)
	hk.Stop()
}
