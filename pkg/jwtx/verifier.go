package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingKID = errors.New("jwtx: missing kid")
	ErrInvalid    = errors.New("jwtx: invalid token")
)

// Verifier validates tokens signed by keys in a KeySet.
type Verifier struct {
	keys   *KeySet
	issuer string
	alg    string
	leeway time.Duration
	now    func() time.Time
}

func NewVerifier(keys *KeySet, alg, issuer string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, alg: alg, leeway: 30 * time.Second}
}

// At returns a copy of v that judges expiry against now instead of the
// wall clock.
func (v *Verifier) At(now func() time.Time) *Verifier {
	c := *v
	c.now = now
	return &c
}

// VerifyAccess parses and validates an access token.
func (v *Verifier) VerifyAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := v.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyID parses and validates an ID token.
func (v *Verifier) VerifyID(token string) (*IDClaims, error) {
	claims := &IDClaims{}
	if err := v.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (v *Verifier) parse(token string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.alg}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.now))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKID
		}
		return v.keys.Get(kid)
	})
	if err != nil {
		return fmt.Errorf("jwtx: parse or verify: %w", err)
	}
	if !parsed.Valid {
		return ErrInvalid
	}
	return nil
}
