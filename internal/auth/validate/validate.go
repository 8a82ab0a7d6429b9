// Package validate holds the pure checks shared by code issuance and
// consumption. Nothing here touches storage or mutates its inputs.
package validate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

const (
	MethodS256  = "S256"
	MethodPlain = "plain"

	// RFC 7636 bounds for both verifiers and plain challenges.
	minPKCELength = 43
	maxPKCELength = 128

	// base64url(SHA-256) without padding.
	s256ChallengeLength = 43
)

// Kinds of violation. Callers map these onto their own error taxonomy.
var (
	ErrScope            = errors.New("scope")
	ErrRedirectURI      = errors.New("redirect_uri")
	ErrChallengeFormat  = errors.New("code_challenge")
	ErrVerifierMismatch = errors.New("code_verifier")
)

// Violation names the rule a value broke.
type Violation struct {
	Kind error
	Rule string
}

func (v *Violation) Error() string { return fmt.Sprintf("%s: %s", v.Kind, v.Rule) }
func (v *Violation) Unwrap() error { return v.Kind }

func violation(kind error, format string, args ...any) *Violation {
	return &Violation{Kind: kind, Rule: fmt.Sprintf(format, args...)}
}

// ScopeSubset checks that requested is non-empty and every token appears in
// allowed. Comparison is case-sensitive and ignores order and duplicates.
// Requesting exactly the allowed set passes.
func ScopeSubset(requested, allowed []string) *Violation {
	if len(requested) == 0 {
		return violation(ErrScope, "no scope requested")
	}
	permitted := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		permitted[s] = struct{}{}
	}
	for _, s := range requested {
		if s == "" {
			return violation(ErrScope, "empty scope token")
		}
		if _, ok := permitted[s]; !ok {
			return violation(ErrScope, "scope %q not allowed for client", s)
		}
	}
	return nil
}

// RedirectURI checks candidate against the registered set by exact string
// equality. No normalisation, prefix or pattern matching is applied.
func RedirectURI(candidate string, registered []string) *Violation {
	if candidate == "" {
		return violation(ErrRedirectURI, "redirect_uri missing")
	}
	if !slices.Contains(registered, candidate) {
		return violation(ErrRedirectURI, "redirect_uri not registered for client")
	}
	return nil
}

// NormalizeMethod canonicalises a challenge method. An empty method means
// S256. Unknown methods are returned unchanged so CodeChallenge can reject
// them.
func NormalizeMethod(method string) string {
	m := strings.TrimSpace(method)
	switch {
	case m == "", strings.EqualFold(m, MethodS256):
		return MethodS256
	case strings.EqualFold(m, MethodPlain):
		return MethodPlain
	default:
		return m
	}
}

// CodeChallenge checks the format of a PKCE challenge for method, which must
// already be normalised. plain is only accepted when allowPlain is set.
func CodeChallenge(challenge, method string, allowPlain bool) *Violation {
	switch method {
	case MethodS256:
		if len(challenge) != s256ChallengeLength {
			return violation(ErrChallengeFormat, "S256 challenge must be %d characters", s256ChallengeLength)
		}
	case MethodPlain:
		if !allowPlain {
			return violation(ErrChallengeFormat, "plain method not allowed")
		}
		if n := len(challenge); n < minPKCELength || n > maxPKCELength {
			return violation(ErrChallengeFormat, "challenge length must be %d-%d", minPKCELength, maxPKCELength)
		}
	default:
		return violation(ErrChallengeFormat, "unsupported method %q", method)
	}
	if !unreserved(challenge) {
		return violation(ErrChallengeFormat, "challenge contains characters outside [A-Za-z0-9-._~]")
	}
	return nil
}

// CodeVerifier checks the RFC 7636 format of a verifier.
func CodeVerifier(verifier string) *Violation {
	if n := len(verifier); n < minPKCELength || n > maxPKCELength {
		return violation(ErrVerifierMismatch, "verifier length must be %d-%d", minPKCELength, maxPKCELength)
	}
	if !unreserved(verifier) {
		return violation(ErrVerifierMismatch, "verifier contains characters outside [A-Za-z0-9-._~]")
	}
	return nil
}

// VerifyCodeVerifier recomputes the challenge from verifier using method and
// compares it with the stored challenge in constant time.
func VerifyCodeVerifier(challenge, method, verifier string) *Violation {
	if v := CodeVerifier(verifier); v != nil {
		return v
	}

	var computed string
	switch method {
	case MethodS256:
		computed = S256Challenge(verifier)
	case MethodPlain:
		computed = verifier
	default:
		return violation(ErrVerifierMismatch, "unsupported method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return violation(ErrVerifierMismatch, "verifier does not match challenge")
	}
	return nil
}

// SetMember reports whether s can be stored as one member of a
// space-delimited set such as a scope list.
func SetMember(s string) bool {
	return s != "" && !strings.ContainsFunc(s, unicode.IsSpace)
}

// S256Challenge derives the S256 challenge for verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func unreserved(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}
