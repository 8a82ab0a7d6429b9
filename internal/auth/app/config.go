package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/validate"
	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Issuer    string // Issuer claim for tokens (default: codegrant)
	Algorithm string // JWT signing algorithm: RS256, ES256, EdDSA (default: EdDSA)
	RSABits   int    // RSA key size for RS256 (default: 4096)
	NumKeys   int    // Signing keys to generate (default: 3, max: 10)

	CodeTTL              time.Duration // Authorization code lifetime (default: 10m)
	AccessTTL            time.Duration // Access and ID token lifetime (default: 15m)
	RefreshTTL           time.Duration // Refresh token lifetime (default: 168h)
	RefreshRotate        bool          // Revoke refresh tokens on use and issue a replacement (default: true)
	RefreshPublicClients bool          // Issue refresh tokens to public clients (default: false)
	AllowPlainPKCE       bool          // Accept the plain challenge method (default: false)

	SkipBootstrap bool   // Skip store initialization at startup, for test harnesses
	StoreDriver   string // sqlite or postgres (default: sqlite)
	DatabaseFile  string // SQLite database path (default: ./auth.db)
	DatabaseURL   string // PostgreSQL connection URL, required for the postgres driver
	PepperFile    string // Pepper for password and secret hashing (default: ./pepper)

	AdminUsername       string   // Bootstrap administrator (default: admin)
	AdminPassword       string   // Generated and logged once when empty
	DefaultRedirectURIs []string // Redirect URIs for the seeded clients

	Env                  string        // dev, staging, prod (default: dev)
	LogLevel             string        // debug, info, warn, error (default: info)
	LogFormat            string        // json, text (default: json)
	Port                 int           // Ops HTTP port (default: 8080)
	ShutdownGracePeriod  time.Duration // Drain deadline (default: 10s)
	HousekeepingInterval time.Duration // Expiry sweep interval (default: 1h)
	AuditBuffer          int           // Queued audit events before dropping (default: 256)
}

// LoadConfig reads the environment once. Nothing below app reads the
// environment directly.
func LoadConfig() Config {
	return Config{
		Issuer:    getEnvOrDefault("AUTH_ISSUER", "codegrant"),
		Algorithm: getEnvOrDefault("AUTH_ALGORITHM", jwtx.AlgorithmEdDSA),
		RSABits:   getEnvIntOrDefault("AUTH_RSA_BITS", 0),
		NumKeys:   getEnvIntOrDefault("AUTH_NUM_KEYS", 0),

		CodeTTL:              getEnvDurationOrDefault("AUTH_CODE_TTL", 10*time.Minute),
		AccessTTL:            getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:           getEnvDurationOrDefault("AUTH_REFRESH_TTL", 7*24*time.Hour),
		RefreshRotate:        getEnvBoolOrDefault("AUTH_REFRESH_ROTATE", true),
		RefreshPublicClients: getEnvBoolOrDefault("AUTH_REFRESH_PUBLIC_CLIENTS", false),
		AllowPlainPKCE:       getEnvBoolOrDefault("AUTH_ALLOW_PLAIN_PKCE", false),

		SkipBootstrap: getEnvBoolOrDefault("AUTH_SKIP_BOOTSTRAP", false),
		StoreDriver:   getEnvOrDefault("AUTH_STORE_DRIVER", DriverSQLite),
		DatabaseFile:  getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		DatabaseURL:   os.Getenv("AUTH_DATABASE_URL"),
		PepperFile:    getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		AdminUsername:       getEnvOrDefault("AUTH_ADMIN_USERNAME", "admin"),
		AdminPassword:       os.Getenv("AUTH_ADMIN_PASSWORD"),
		DefaultRedirectURIs: getEnvListOrDefault("AUTH_DEFAULT_REDIRECT_URIS", []string{"http://localhost:3000/callback"}),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),
		AuditBuffer:          getEnvIntOrDefault("AUDIT_BUFFER", 256),
	}
}

// Validate reports configuration that would fail later at a worse moment.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.DatabaseFile == "" {
			return fmt.Errorf("AUTH_DATABASE_FILE is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("AUTH_DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown AUTH_STORE_DRIVER %q (supported: sqlite, postgres)", c.StoreDriver)
	}
	switch c.Algorithm {
	case jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA:
	default:
		return fmt.Errorf("unsupported AUTH_ALGORITHM %q (supported: RS256, ES256, EdDSA)", c.Algorithm)
	}
	if c.CodeTTL <= 0 {
		return fmt.Errorf("AUTH_CODE_TTL must be positive")
	}
	if len(c.DefaultRedirectURIs) == 0 {
		return fmt.Errorf("AUTH_DEFAULT_REDIRECT_URIS must name at least one URI")
	}
	seed := c.SeedData()
	for _, client := range seed.Clients {
		for _, uri := range client.RedirectURIs {
			if !validate.SetMember(uri) {
				return fmt.Errorf("redirect URI %q for client %s is empty or contains whitespace", uri, client.ID)
			}
		}
		for _, scope := range client.Scopes {
			if !validate.SetMember(scope) {
				return fmt.Errorf("scope %q for client %s is not a single token", scope, client.ID)
			}
		}
	}
	return nil
}

// SeedData is what bootstrap writes into an empty store: an admin and a
// user role, the administrator, and one client of each type.
func (c Config) SeedData() domain.SeedData {
	return domain.SeedData{
		AdminUsername: c.AdminUsername,
		AdminPassword: c.AdminPassword,
		AdminRole:     "admin",
		Roles: []domain.RoleDefinition{
			{Name: "admin", Scopes: []string{"openid", "profile", "admin"}},
			{Name: "user", Scopes: []string{"openid", "profile"}},
		},
		Clients: []domain.ClientDefinition{
			{
				ID:           "codegrant-public",
				Name:         "Default public client",
				Type:         domain.ClientPublic,
				RedirectURIs: c.DefaultRedirectURIs,
				Scopes:       []string{"openid", "profile"},
			},
			{
				ID:           "codegrant-admin",
				Name:         "Default confidential client",
				Type:         domain.ClientConfidential,
				RedirectURIs: c.DefaultRedirectURIs,
				Scopes:       []string{"openid", "profile", "admin"},
			},
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

// getEnvListOrDefault splits on commas and whitespace.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return defaultValue
	}
	return fields
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
