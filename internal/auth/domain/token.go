package domain

import "time"

// TokenGrant is what a successful code or refresh exchange hands back.
type TokenGrant struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`      // seconds
	Scope        string    `json:"scope,omitempty"` // space-delimited
	Scopes       []string  `json:"-"`
	SubjectID    string    `json:"-"`
	ClientID     string    `json:"-"`
	ExpiresAt    time.Time `json:"-"`
}

// RefreshToken is the stored refresh token record.
type RefreshToken struct {
	ID                  string
	TokenHash           string // base64url SHA-256 of the opaque token
	SubjectID           string
	ClientID            string
	AuthorizationCodeID string // grant the token descends from
	Scopes              []string
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	CreatedAt           time.Time
}

func (t RefreshToken) Revoked() bool { return t.RevokedAt != nil }
