package sqlstore

import (
	"context"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
)

type accountsRepo struct{ q queries }

const accountColumns = `id, username, password_hash, role_id, bootstrap_admin, created_at, updated_at`

func scanAccount(s scanner) (domain.Account, error) {
	var (
		a       domain.Account
		created int64
		updated int64
	)
	if err := s.Scan(&a.ID, &a.Username, &a.PasswordHash, &a.RoleID, &a.BootstrapAdmin, &created, &updated); err != nil {
		return domain.Account{}, mapNotFound(err)
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

// The partial unique index on bootstrap_admin makes a second bootstrap
// admin a conflict, which DO NOTHING absorbs.
func (r accountsRepo) InsertAccountIfAbsent(ctx context.Context, a domain.Account) (bool, error) {
	return inserted(r.q.exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		a.ID, a.Username, a.PasswordHash, a.RoleID, a.BootstrapAdmin,
		toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	))
}

func (r accountsRepo) GetBootstrapAdmin(ctx context.Context) (domain.Account, error) {
	return scanAccount(r.q.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE bootstrap_admin = ?`, true))
}
