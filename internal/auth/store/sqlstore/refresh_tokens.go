package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
	"github.com/aussiebroadwan/codegrant/internal/auth/store"
)

type refreshTokensRepo struct{ q queries }

const refreshTokenColumns = `id, token_hash, subject_id, client_id, authorization_code_id, scopes,
	expires_at, revoked_at, created_at`

func scanRefreshToken(s scanner) (domain.RefreshToken, error) {
	var (
		t       domain.RefreshToken
		codeID  sql.NullString
		scopes  string
		expires int64
		revoked sql.NullInt64
		created int64
	)
	err := s.Scan(&t.ID, &t.TokenHash, &t.SubjectID, &t.ClientID, &codeID, &scopes,
		&expires, &revoked, &created)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.AuthorizationCodeID = codeID.String
	t.Scopes = splitSet(scopes)
	t.ExpiresAt = fromMillis(expires)
	t.RevokedAt = fromNullMillis(revoked)
	t.CreatedAt = fromMillis(created)
	return t, nil
}

func (r refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.q.exec(ctx, `
		INSERT INTO refresh_tokens (`+refreshTokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.SubjectID, t.ClientID, toNullString(t.AuthorizationCodeID),
		joinSet(t.Scopes), toMillis(t.ExpiresAt), toNullMillis(t.RevokedAt), toMillis(t.CreatedAt),
	)
	return r.q.mapWriteErr(err)
}

func (r refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	return scanRefreshToken(r.q.queryRow(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash))
}

func (r refreshTokensRepo) ConsumeRefreshToken(ctx context.Context, hash string, now time.Time) (domain.RefreshToken, error) {
	ms := toMillis(now)
	tok, err := scanRefreshToken(r.q.queryRow(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
		RETURNING `+refreshTokenColumns,
		ms, hash, ms,
	))
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.RefreshToken{}, err
	}

	existing, err := r.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	if existing.Revoked() {
		return existing, store.ErrTokenRevoked
	}
	return existing, store.ErrTokenExpired
}

func (r refreshTokensRepo) RevokeByAuthorizationCode(ctx context.Context, codeID string, now time.Time) (int64, error) {
	res, err := r.q.exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = ?
		WHERE authorization_code_id = ? AND revoked_at IS NULL`,
		toMillis(now), codeID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now, revokedBefore time.Time) (int64, error) {
	res, err := r.q.exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE (revoked_at IS NULL AND expires_at <= ?)
		   OR (revoked_at IS NOT NULL AND revoked_at <= ?)`,
		toMillis(now), toMillis(revokedBefore),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
