package sqlstore

import (
	"context"

	"github.com/aussiebroadwan/codegrant/internal/auth/domain"
)

type rolesRepo struct{ q queries }

const roleColumns = `id, name, scopes, created_at`

func scanRole(s scanner) (domain.Role, error) {
	var (
		r       domain.Role
		scopes  string
		created int64
	)
	if err := s.Scan(&r.ID, &r.Name, &scopes, &created); err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	r.Scopes = splitSet(scopes)
	r.CreatedAt = fromMillis(created)
	return r, nil
}

func (r rolesRepo) InsertRoleIfAbsent(ctx context.Context, role domain.Role) (bool, error) {
	if err := checkSet("scopes", role.Scopes); err != nil {
		return false, err
	}
	return inserted(r.q.exec(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		role.ID, role.Name, joinSet(role.Scopes), toMillis(role.CreatedAt),
	))
}

func (r rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	return scanRole(r.q.queryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = ?`, name))
}
