package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	ErrInvalidRecord = errors.New("store: invalid record")

	// Returned by ClaimAuthorizationCode when the claim loses.
	ErrCodeConsumed = errors.New("store: authorization code already consumed")
	ErrCodeExpired  = errors.New("store: authorization code expired")

	// Returned by ConsumeRefreshToken when the token cannot be used.
	ErrTokenRevoked = errors.New("store: refresh token revoked")
	ErrTokenExpired = errors.New("store: refresh token expired")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. Sub-repositories are exposed as methods so a
// transaction-scoped Store cannot open a nested transaction by accident.
type Store interface {
	Accounts() Accounts
	Roles() Roles
	Clients() Clients
	AuthorizationCodes() AuthorizationCodes
	RefreshTokens() RefreshTokens

	// ApplyMigrations creates or upgrades the schema. Idempotent.
	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// InsertAccountIfAbsent inserts a unless a row with the same id or
	// username exists, or a is a bootstrap admin and one already exists.
	// Reports whether a row was written.
	InsertAccountIfAbsent(ctx context.Context, a domain.Account) (bool, error)

	// GetBootstrapAdmin returns the single bootstrap administrator.
	GetBootstrapAdmin(ctx context.Context) (domain.Account, error)
}

type Roles interface {
	// InsertRoleIfAbsent is an insert-or-ignore keyed on the role name.
	InsertRoleIfAbsent(ctx context.Context, r domain.Role) (bool, error)

	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
}

type Clients interface {
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// ListClients returns all clients, disabled ones included, ordered by id.
	ListClients(ctx context.Context) ([]domain.Client, error)

	// CreateClient inserts a new client. Returns ErrAlreadyExists on a
	// duplicate id and ErrInvalidRecord for a public client with a secret.
	CreateClient(ctx context.Context, c domain.Client) error

	// InsertClientIfAbsent is an insert-or-ignore keyed on the client id.
	InsertClientIfAbsent(ctx context.Context, c domain.Client) (bool, error)

	SetClientDisabled(ctx context.Context, clientID string, disabled bool, now time.Time) error

	// UpdateClientPolicy replaces the mutable policy fields.
	UpdateClientPolicy(ctx context.Context, clientID string, redirectURIs, scopes []string, now time.Time) error
}

type AuthorizationCodes interface {
	// CreateAuthorizationCode stores a freshly minted authorization code.
	CreateAuthorizationCode(ctx context.Context, code domain.AuthorizationCode) error

	GetAuthorizationCodeByHash(ctx context.Context, hash string) (domain.AuthorizationCode, error)

	// ClaimAuthorizationCode atomically marks the code consumed at now and
	// returns the claimed record. Exactly one concurrent caller can win.
	// Losers get ErrCodeConsumed (with the stored record), ErrCodeExpired
	// (record left untouched) or ErrNotFound, checked in that order.
	ClaimAuthorizationCode(ctx context.Context, hash string, now time.Time) (domain.AuthorizationCode, error)

	// DeleteExpiredAuthorizationCodes removes unconsumed codes past expiry
	// and codes consumed before consumedBefore. Consumed codes outlive their
	// expiry until then so a replay is still reported as one.
	DeleteExpiredAuthorizationCodes(ctx context.Context, now, consumedBefore time.Time) (int64, error)
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// ConsumeRefreshToken atomically revokes the token at now and returns
	// it. Losers get ErrTokenRevoked (with the record), ErrTokenExpired or
	// ErrNotFound.
	ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (domain.RefreshToken, error)

	// RevokeByAuthorizationCode revokes every live token descended from the
	// given authorization code.
	RevokeByAuthorizationCode(ctx context.Context, codeID string, now time.Time) (int64, error)

	// DeleteExpiredRefreshTokens removes live tokens past expiry and tokens
	// revoked before revokedBefore.
	DeleteExpiredRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error)
}
