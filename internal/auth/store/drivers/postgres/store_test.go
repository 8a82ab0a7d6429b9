package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
	"github.com/aussiebroadwan/codegrant/internal/auth/store/drivers/postgres"
)

var codeColumns = []string{
	"id", "code_hash", "client_id", "subject_id", "redirect_uri", "scopes",
	"code_challenge", "code_challenge_method", "nonce", "expires_at", "consumed_at", "created_at",
}

func newMock(t *testing.T) (store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return postgres.FromDB(db), mock
}

var now = time.UnixMilli(1_700_000_000_000).UTC()

func TestCreateClientMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(`INSERT INTO clients .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10\)`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := s.Clients().CreateClient(context.Background(), domain.Client{
		ID: "app1", Name: "App", Type: domain.ClientPublic, CreatedAt: now, UpdatedAt: now,
	})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestOtherErrorsPassThrough(t *testing.T) {
	s, mock := newMock(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`SELECT .* FROM clients WHERE id = \$1`).WithArgs("app1").WillReturnError(boom)

	_, err := s.Clients().GetClientByID(context.Background(), "app1")
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, store.ErrNotFound)
}

func TestClaimWinsWithReturning(t *testing.T) {
	s, mock := newMock(t)
	ms := now.UnixMilli()

	mock.ExpectQuery(`UPDATE authorization_codes\s+SET consumed_at = \$1\s+WHERE code_hash = \$2 AND consumed_at IS NULL AND expires_at > \$3\s+RETURNING`).
		WithArgs(ms, "hash", ms).
		WillReturnRows(sqlmock.NewRows(codeColumns).AddRow(
			"id1", "hash", "app1", "user-1", "https://app.example/cb", "read write",
			"ch", "S256", "nonce", ms+60_000, ms, ms-1000,
		))

	code, err := s.AuthorizationCodes().ClaimAuthorizationCode(context.Background(), "hash", now)
	require.NoError(t, err)
	require.Equal(t, []string{"read", "write"}, code.Scopes)
	require.NotNil(t, code.ConsumedAt)
	require.True(t, code.ConsumedAt.Equal(now))
}

func TestClaimLosesToEarlierConsumer(t *testing.T) {
	s, mock := newMock(t)
	ms := now.UnixMilli()

	mock.ExpectQuery(`UPDATE authorization_codes`).
		WithArgs(ms, "hash", ms).
		WillReturnRows(sqlmock.NewRows(codeColumns))
	mock.ExpectQuery(`SELECT .* FROM authorization_codes WHERE code_hash = \$1`).
		WithArgs("hash").
		WillReturnRows(sqlmock.NewRows(codeColumns).AddRow(
			"id1", "hash", "app1", "user-1", "https://app.example/cb", "read",
			"", "", nil, ms+60_000, ms-10, ms-1000,
		))

	code, err := s.AuthorizationCodes().ClaimAuthorizationCode(context.Background(), "hash", now)
	require.ErrorIs(t, err, store.ErrCodeConsumed)
	require.Equal(t, "id1", code.ID)
}

func TestClaimExpiredTakesPrecedenceOnlyWhenUnconsumed(t *testing.T) {
	s, mock := newMock(t)
	ms := now.UnixMilli()

	mock.ExpectQuery(`UPDATE authorization_codes`).WillReturnRows(sqlmock.NewRows(codeColumns))
	mock.ExpectQuery(`SELECT .* FROM authorization_codes`).
		WillReturnRows(sqlmock.NewRows(codeColumns).AddRow(
			"id1", "hash", "app1", "user-1", "https://app.example/cb", "read",
			"", "", nil, ms-1, nil, ms-1000,
		))

	_, err := s.AuthorizationCodes().ClaimAuthorizationCode(context.Background(), "hash", now)
	require.ErrorIs(t, err, store.ErrCodeExpired)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO roles .* ON CONFLICT DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	sentinel := errors.New("abort")
	err := s.WithTx(context.Background(), func(tx store.Tx) error {
		ok, err := tx.Roles().InsertRoleIfAbsent(context.Background(), domain.Role{ID: "r", Name: "admin", CreatedAt: now})
		require.NoError(t, err)
		require.True(t, ok)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}
