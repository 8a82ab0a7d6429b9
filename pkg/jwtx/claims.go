package jwtx

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims are the claims embedded in access tokens (RFC 9068 layout).
type AccessClaims struct {
	jwt.RegisteredClaims

	ClientID string `json:"client_id"`

	// Space-delimited, exactly the scope that was granted.
	Scope string `json:"scope,omitempty"`
}

// Scopes splits the scope claim back into its tokens.
func (c AccessClaims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// IDClaims are the claims embedded in OpenID Connect ID tokens.
type IDClaims struct {
	jwt.RegisteredClaims

	// Nonce is copied verbatim from the authorization request.
	Nonce    string `json:"nonce,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`
	AZP      string `json:"azp,omitempty"`
}

// NewAccessClaims builds access-token claims valid from now for ttl.
func NewAccessClaims(issuer, subject, clientID string, scopes []string, ttl time.Duration, now time.Time) AccessClaims {
	return AccessClaims{
		RegisteredClaims: registered(issuer, subject, clientID, ttl, now),
		ClientID:         clientID,
		Scope:            strings.Join(scopes, " "),
	}
}

// NewIDClaims builds ID-token claims for subject, addressed to clientID.
func NewIDClaims(issuer, subject, clientID, nonce string, authTime time.Time, ttl time.Duration, now time.Time) IDClaims {
	return IDClaims{
		RegisteredClaims: registered(issuer, subject, clientID, ttl, now),
		Nonce:            nonce,
		AuthTime:         authTime.Unix(),
		AZP:              clientID,
	}
}

func registered(issuer, subject, audience string, ttl time.Duration, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
}
