package service

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/aussiebroadwan/codegrant/internal/auth/audit"
	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/metrics"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/codegrant/pkg/cryptox"
	"github.com/aussiebroadwan/codegrant/pkg/jwtx"
)

const (
	testIssuer   = "https://auth.example"
	testRedirect = "https://app.example/cb"
)

// testClock is a settable clock shared by every service in a fixture.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// syncBuffer lets the audit worker write while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	store    store.Store
	db       *sql.DB
	hasher   cryptox.Hasher
	clock    *testClock
	auditLog *syncBuffer
	auditor  *audit.Auditor
	metrics  *metrics.Metrics
	keys     *jwtx.KeyManager

	codes  *AuthorizationCodeService
	tokens *TokenService

	public       domain.Client
	confidential domain.Client
	secret       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	keys, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    testIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		db:       st.DB(),
		hasher:   cryptox.Hasher{Pepper: "test-pepper"},
		clock:    &testClock{now: time.UnixMilli(1_700_000_000_000).UTC()},
		auditLog: &syncBuffer{},
		metrics:  metrics.New(nil),
		keys:     keys,
	}
	f.auditor = audit.New(slog.New(slog.NewJSONHandler(f.auditLog, nil)), audit.Options{})
	t.Cleanup(f.auditor.Close)

	f.tokens = &TokenService{
		KeyManager: keys,
		Store:      st,
		Hasher:     f.hasher,
		Issuer:     testIssuer,
		Policy:     RefreshPolicy{Rotate: true},
		Auditor:    f.auditor,
		Metrics:    f.metrics,
		Now:        f.clock.Now,
	}
	f.codes = &AuthorizationCodeService{
		Store:   st,
		Tokens:  f.tokens,
		Hasher:  f.hasher,
		Auditor: f.auditor,
		Metrics: f.metrics,
		Now:     f.clock.Now,
	}

	f.public = f.addClient(t, domain.Client{
		ID:           "app1",
		Name:         "App One",
		Type:         domain.ClientPublic,
		RedirectURIs: []string{testRedirect},
		Scopes:       []string{"read", "write", "admin", ScopeOpenID},
	})

	f.secret = "s3cret-for-tests"
	hash, err := f.hasher.Hash(f.secret)
	require.NoError(t, err)
	f.confidential = f.addClient(t, domain.Client{
		ID:           "backend",
		Name:         "Backend",
		Type:         domain.ClientConfidential,
		SecretHash:   hash,
		RedirectURIs: []string{testRedirect},
		Scopes:       []string{"read", "write"},
	})
	return f
}

func (f *fixture) addClient(t *testing.T, c domain.Client) domain.Client {
	t.Helper()
	c.CreatedAt = f.clock.Now()
	c.UpdatedAt = c.CreatedAt
	require.NoError(t, f.store.Clients().CreateClient(context.Background(), c))
	return c
}

// issuePublic issues a code for the public client with a fresh S256 pair
// and returns the code and its verifier.
func (f *fixture) issuePublic(t *testing.T, scope ...string) (string, string) {
	t.Helper()
	verifier := oauth2.GenerateVerifier()
	issued, err := f.codes.IssueCode(context.Background(), IssueRequest{
		ClientID:            f.public.ID,
		RedirectURI:         testRedirect,
		Scope:               scope,
		CodeChallenge:       oauth2.S256ChallengeFromVerifier(verifier),
		CodeChallengeMethod: "S256",
		SubjectID:           "user-1",
	})
	require.NoError(t, err)
	return issued.Code, verifier
}

func (f *fixture) countCodes(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM authorization_codes`).Scan(&n))
	return n
}

// auditEvents flushes the auditor and returns what it wrote.
func (f *fixture) auditEvents() string {
	f.auditor.Close()
	return f.auditLog.String()
}
