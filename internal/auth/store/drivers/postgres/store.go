// Package postgres is the store driver for PostgreSQL, using pgx through
// database/sql.
package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/aussiebroadwan/codegrant/internal/auth/store/sqlstore"
)

const uniqueViolation = "23505"

// Dialect is the sqlstore dialect for PostgreSQL.
var Dialect = sqlstore.Dialect{
	Name:              "postgres",
	NumberedParams:    true,
	IsUniqueViolation: isUniqueViolation,
	Migrate:           applyMigrations,
}

// NewStore opens a pool for the given connection URL.
func NewStore(databaseURL string) (*sqlstore.Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return sqlstore.New(db, Dialect), nil
}

// FromDB wraps an existing pool, for callers that manage their own.
func FromDB(db *sql.DB) *sqlstore.Store {
	return sqlstore.New(db, Dialect)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
