package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
)

type authorizationCodesRepo struct{ q queries }

const authorizationCodeColumns = `id, code_hash, client_id, subject_id, redirect_uri, scopes,
	code_challenge, code_challenge_method, nonce, expires_at, consumed_at, created_at`

func scanAuthorizationCode(s scanner) (domain.AuthorizationCode, error) {
	var (
		c        domain.AuthorizationCode
		scopes   string
		nonce    sql.NullString
		expires  int64
		consumed sql.NullInt64
		created  int64
	)
	err := s.Scan(&c.ID, &c.CodeHash, &c.ClientID, &c.SubjectID, &c.RedirectURI, &scopes,
		&c.CodeChallenge, &c.CodeChallengeMethod, &nonce, &expires, &consumed, &created)
	if err != nil {
		return domain.AuthorizationCode{}, mapNotFound(err)
	}
	c.Scopes = splitSet(scopes)
	c.Nonce = nonce.String
	c.ExpiresAt = fromMillis(expires)
	c.ConsumedAt = fromNullMillis(consumed)
	c.CreatedAt = fromMillis(created)
	return c, nil
}

func (r authorizationCodesRepo) CreateAuthorizationCode(ctx context.Context, c domain.AuthorizationCode) error {
	_, err := r.q.exec(ctx, `
		INSERT INTO authorization_codes (`+authorizationCodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CodeHash, c.ClientID, c.SubjectID, c.RedirectURI, joinSet(c.Scopes),
		c.CodeChallenge, c.CodeChallengeMethod, toNullString(c.Nonce),
		toMillis(c.ExpiresAt), toNullMillis(c.ConsumedAt), toMillis(c.CreatedAt),
	)
	return r.q.mapWriteErr(err)
}

func (r authorizationCodesRepo) GetAuthorizationCodeByHash(ctx context.Context, hash string) (domain.AuthorizationCode, error) {
	return scanAuthorizationCode(r.q.queryRow(ctx,
		`SELECT `+authorizationCodeColumns+` FROM authorization_codes WHERE code_hash = ?`, hash))
}

// ClaimAuthorizationCode is a single conditional UPDATE, so the database's
// row-level write serialisation picks the one winner. A losing claim is
// classified by re-reading the row; the states it distinguishes are terminal,
// so the read cannot observe a claim that later becomes valid.
func (r authorizationCodesRepo) ClaimAuthorizationCode(ctx context.Context, hash string, now time.Time) (domain.AuthorizationCode, error) {
	ms := toMillis(now)
	code, err := scanAuthorizationCode(r.q.queryRow(ctx, `
		UPDATE authorization_codes
		SET consumed_at = ?
		WHERE code_hash = ? AND consumed_at IS NULL AND expires_at > ?
		RETURNING `+authorizationCodeColumns,
		ms, hash, ms,
	))
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.AuthorizationCode{}, err
	}

	existing, err := r.GetAuthorizationCodeByHash(ctx, hash)
	if err != nil {
		return domain.AuthorizationCode{}, err
	}
	switch {
	case existing.Consumed():
		return existing, store.ErrCodeConsumed
	case existing.ExpiredAt(now):
		return existing, store.ErrCodeExpired
	default:
		// Unreachable while states are monotonic.
		return domain.AuthorizationCode{}, store.ErrCodeConsumed
	}
}

func (r authorizationCodesRepo) DeleteExpiredAuthorizationCodes(ctx context.Context, now, consumedBefore time.Time) (int64, error) {
	res, err := r.q.exec(ctx, `
		DELETE FROM authorization_codes
		WHERE (consumed_at IS NULL AND expires_at <= ?)
		   OR (consumed_at IS NOT NULL AND consumed_at <= ?)`,
		toMillis(now), toMillis(consumedBefore),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
