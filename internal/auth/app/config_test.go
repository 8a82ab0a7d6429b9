package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	require.Equal(t, "codegrant", cfg.Issuer)
	require.Equal(t, "EdDSA", cfg.Algorithm)
	require.Equal(t, 10*time.Minute, cfg.CodeTTL)
	require.True(t, cfg.RefreshRotate)
	require.False(t, cfg.RefreshPublicClients)
	require.False(t, cfg.SkipBootstrap)
	require.Equal(t, DriverSQLite, cfg.StoreDriver)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_CODE_TTL", "600")
	t.Setenv("AUTH_ACCESS_TTL", "5m")
	t.Setenv("AUTH_SKIP_BOOTSTRAP", "true")
	t.Setenv("AUTH_REFRESH_ROTATE", "false")
	t.Setenv("AUTH_ALLOW_PLAIN_PKCE", "not-a-bool")
	t.Setenv("AUTH_STORE_DRIVER", "postgres")
	t.Setenv("AUTH_DATABASE_URL", "postgres://localhost/codegrant")
	t.Setenv("AUTH_DEFAULT_REDIRECT_URIS", "https://a.example/cb, https://b.example/cb")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := LoadConfig()
	require.Equal(t, 600*time.Second, cfg.CodeTTL)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)
	require.True(t, cfg.SkipBootstrap)
	require.False(t, cfg.RefreshRotate)
	require.False(t, cfg.AllowPlainPKCE, "unparseable values keep the default")
	require.Equal(t, []string{"https://a.example/cb", "https://b.example/cb"}, cfg.DefaultRedirectURIs)
	require.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "mysql" }},
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres }},
		{"sqlite without file", func(c *Config) { c.DatabaseFile = "" }},
		{"bad algorithm", func(c *Config) { c.Algorithm = "HS256" }},
		{"zero code ttl", func(c *Config) { c.CodeTTL = 0 }},
		{"no default redirect", func(c *Config) { c.DefaultRedirectURIs = nil }},
		{"redirect with whitespace", func(c *Config) { c.DefaultRedirectURIs = []string{"https://app.example/cb evil"} }},
		{"empty redirect", func(c *Config) { c.DefaultRedirectURIs = []string{""} }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := LoadConfig()
			tc.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSeedData(t *testing.T) {
	cfg := LoadConfig()
	cfg.AdminUsername = "root"
	seed := cfg.SeedData()

	require.Equal(t, "root", seed.AdminUsername)
	require.Equal(t, "admin", seed.AdminRole)
	require.Len(t, seed.Roles, 2)
	require.Len(t, seed.Clients, 2)

	types := map[domain.ClientType]int{}
	for _, c := range seed.Clients {
		types[c.Type]++
		require.Equal(t, cfg.DefaultRedirectURIs, c.RedirectURIs)
	}
	require.Equal(t, 1, types[domain.ClientPublic])
	require.Equal(t, 1, types[domain.ClientConfidential])
}
