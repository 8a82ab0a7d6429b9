package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
)

func TestKeyManagerAllAlgorithms(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		rsaBits   int
	}{
		{name: "RS256", algorithm: jwtx.AlgorithmRS256, rsaBits: 2048},
		{name: "ES256", algorithm: jwtx.AlgorithmES256},
		{name: "EdDSA", algorithm: jwtx.AlgorithmEdDSA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
				Algorithm: tt.algorithm,
				Issuer:    "https://auth.test",
				RSABits:   tt.rsaBits,
				NumKeys:   2,
			})
			require.NoError(t, err)
			require.True(t, km.IsReady())
			require.Equal(t, 2, km.NumSigners())
			require.Len(t, km.KeySet.PublicJWKS().Keys, 2)

			now := time.Now()
			signer := km.GetSigner()
			require.NotNil(t, signer)
			require.Equal(t, tt.algorithm, signer.Alg())
			require.True(t, strings.HasPrefix(signer.KID(), "codegrant-"))

			token, err := signer.Sign(jwtx.NewAccessClaims("https://auth.test", "user-1", "client-1",
				[]string{"openid", "profile"}, time.Minute, now))
			require.NoError(t, err)

			claims, err := km.Verifier.VerifyAccess(token)
			require.NoError(t, err)
			require.Equal(t, "user-1", claims.Subject)
			require.Equal(t, "client-1", claims.ClientID)
			require.Equal(t, []string{"openid", "profile"}, claims.Scopes())
			require.NotEmpty(t, claims.ID)
		})
	}
}

func TestKeyManagerOptions(t *testing.T) {
	_, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA})
	require.Error(t, err)

	_, err = jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: "HS256", Issuer: "x"})
	require.Error(t, err)

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Issuer: "x", NumKeys: 50})
	require.NoError(t, err)
	require.Equal(t, 10, km.NumSigners())

	var nilManager *jwtx.KeyManager
	require.Nil(t, nilManager.GetSigner())
	require.False(t, nilManager.IsReady())
}

func TestIDTokenCarriesNonce(t *testing.T) {
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Issuer: "iss", NumKeys: 1})
	require.NoError(t, err)

	now := time.Now()
	token, err := km.GetSigner().Sign(jwtx.NewIDClaims("iss", "user-1", "client-1", "n-0S6_WzA2Mj", now, time.Minute, now))
	require.NoError(t, err)

	claims, err := km.Verifier.VerifyID(token)
	require.NoError(t, err)
	require.Equal(t, "n-0S6_WzA2Mj", claims.Nonce)
	require.Equal(t, "client-1", claims.AZP)
	require.Equal(t, jwt.ClaimStrings{"client-1"}, claims.Audience)
}

func TestVerifierRejects(t *testing.T) {
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256, Issuer: "iss", NumKeys: 1})
	require.NoError(t, err)
	signer := km.GetSigner()
	now := time.Now()

	t.Run("expired", func(t *testing.T) {
		token, err := signer.Sign(jwtx.NewAccessClaims("iss", "u", "c", nil, time.Minute, now.Add(-time.Hour)))
		require.NoError(t, err)
		_, err = km.Verifier.VerifyAccess(token)
		require.Error(t, err)
	})

	t.Run("expired against an injected clock", func(t *testing.T) {
		minted := time.UnixMilli(1_700_000_000_000)
		token, err := signer.Sign(jwtx.NewAccessClaims("iss", "u", "c", nil, time.Minute, minted))
		require.NoError(t, err)

		_, err = km.Verifier.VerifyAccess(token)
		require.Error(t, err)

		at := func() time.Time { return minted.Add(30 * time.Second) }
		claims, err := km.Verifier.At(at).VerifyAccess(token)
		require.NoError(t, err)
		require.Equal(t, "u", claims.Subject)

		late := func() time.Time { return minted.Add(2 * time.Minute) }
		_, err = km.Verifier.At(late).VerifyAccess(token)
		require.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token, err := signer.Sign(jwtx.NewAccessClaims("other", "u", "c", nil, time.Minute, now))
		require.NoError(t, err)
		_, err = km.Verifier.VerifyAccess(token)
		require.Error(t, err)
	})

	t.Run("unknown kid", func(t *testing.T) {
		pemKey, err := cryptox.GenerateES256Key()
		require.NoError(t, err)
		stranger, err := jwtx.NewSigner(jwtx.AlgorithmES256, "stranger", pemKey)
		require.NoError(t, err)

		token, err := stranger.Sign(jwtx.NewAccessClaims("iss", "u", "c", nil, time.Minute, now))
		require.NoError(t, err)
		_, err = km.Verifier.VerifyAccess(token)
		require.ErrorIs(t, err, jwtx.ErrNoKey)
	})

	t.Run("algorithm mismatch", func(t *testing.T) {
		pemKey, err := cryptox.GenerateEd25519Key()
		require.NoError(t, err)
		_, err = jwtx.NewSigner(jwtx.AlgorithmES256, "k", pemKey)
		require.Error(t, err)
	})
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	_, err := jwtx.NewSigner(jwtx.AlgorithmEdDSA, "k", []byte("not a pem"))
	require.Error(t, err)
}
