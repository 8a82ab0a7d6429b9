package domain

import "time"

type Account struct {
	ID             string
	Username       string
	PasswordHash   string // argon2id PHC string
	RoleID         string
	BootstrapAdmin bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
