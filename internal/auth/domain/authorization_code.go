package domain

import "time"

// AuthorizationCode is one grant in flight. The opaque code itself is never
// stored; CodeHash is its SHA-256 fingerprint.
type AuthorizationCode struct {
	ID                  string
	CodeHash            string
	ClientID            string
	SubjectID           string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	ExpiresAt           time.Time
	ConsumedAt          *time.Time
	CreatedAt           time.Time
}

func (c AuthorizationCode) Consumed() bool { return c.ConsumedAt != nil }

// ExpiredAt reports whether the code is past its expiry at now.
func (c AuthorizationCode) ExpiredAt(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

func (c AuthorizationCode) HasPKCE() bool { return c.CodeChallenge != "" }
