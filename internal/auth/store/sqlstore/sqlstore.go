// Package sqlstore implements store.Store over database/sql. The SQL is
// written once with '?' placeholders; a Dialect adapts it to each driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/aussiebroadwan/codegrant/internal/auth/store"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect captures what differs between drivers.
type Dialect struct {
	Name string

	// Numbered placeholders ($1, $2, ...) instead of '?'.
	NumberedParams bool

	// IsUniqueViolation reports whether err is a unique/primary key conflict.
	IsUniqueViolation func(error) bool

	// Migrate applies the embedded schema to db.
	Migrate func(db *sql.DB) error
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedParams {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// queries runs rebound SQL against a DB or Tx.
type queries struct {
	db DBTX
	d  Dialect
}

func (q queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.d.rebind(query), args...)
}

func (q queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.d.rebind(query), args...)
}

func (q queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.d.rebind(query), args...)
}

// mapWriteErr turns driver conflicts into store.ErrAlreadyExists.
func (q queries) mapWriteErr(err error) error {
	if err != nil && q.d.IsUniqueViolation != nil && q.d.IsUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

// inserted reports whether an insert-or-ignore wrote a row.
func inserted(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Store is the database-backed store.Store.
type Store struct {
	queries
	sqlDB *sql.DB
}

func New(db *sql.DB, d Dialect) *Store {
	return &Store{queries: queries{db: db, d: d}, sqlDB: db}
}

// DB exposes the underlying pool for driver-level tooling.
func (s *Store) DB() *sql.DB { return s.sqlDB }

func (s *Store) Close() error { return s.sqlDB.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.sqlDB.PingContext(ctx) }

func (s *Store) ApplyMigrations() error {
	if s.d.Migrate == nil {
		return errors.New("sqlstore: dialect has no migrations")
	}
	return s.d.Migrate(s.sqlDB)
}

func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txStore{queries: queries{db: tx, d: s.d}, tx: tx}, nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type txStore struct {
	queries
	tx *sql.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

// Close is a no-op; the owning Store keeps the pool.
func (t *txStore) Close() error { return nil }

func (t *txStore) Ping(context.Context) error { return nil }

// Nested transactions are not supported.
func (t *txStore) Tx(context.Context) (store.Tx, error) { return nil, sql.ErrTxDone }

func (t *txStore) WithTx(context.Context, func(store.Tx) error) error { return sql.ErrTxDone }

// ApplyMigrations must run before any transaction is opened.
func (t *txStore) ApplyMigrations() error { return nil }

func (q queries) Accounts() store.Accounts                     { return accountsRepo{q} }
func (q queries) Roles() store.Roles                           { return rolesRepo{q} }
func (q queries) Clients() store.Clients                       { return clientsRepo{q} }
func (q queries) AuthorizationCodes() store.AuthorizationCodes { return authorizationCodesRepo{q} }
func (q queries) RefreshTokens() store.RefreshTokens           { return refreshTokensRepo{q} }

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// Timestamps are stored as unix milliseconds in both drivers.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// checkSet rejects members that joinSet could not round-trip.
func checkSet(field string, items []string) error {
	for _, item := range items {
		if item == "" || strings.ContainsFunc(item, unicode.IsSpace) {
			return fmt.Errorf("%w: %s member %q is empty or contains whitespace", store.ErrInvalidRecord, field, item)
		}
	}
	return nil
}

// joinSet stores a set as space-delimited text.
func joinSet(items []string) string { return strings.Join(items, " ") }

// splitSet parses space-delimited text, dropping blanks and duplicates.
func splitSet(s string) []string {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return nil
	}
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
