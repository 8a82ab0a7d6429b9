package domain

import "time"

type Role struct {
	ID        string
	Name      string
	Scopes    []string // space-delimited in storage
	CreatedAt time.Time
}
