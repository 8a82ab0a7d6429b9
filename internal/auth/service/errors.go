package service

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Every failure the core surfaces is one of these, possibly wrapped with the
// rule that was violated. Callers branch with errors.Is.
var (
	ErrClientNotFound             = errors.New("client_not_found")
	ErrInvalidRedirectURI         = errors.New("invalid_redirect_uri")
	ErrInvalidScope               = errors.New("invalid_scope")
	ErrPKCERequired               = errors.New("pkce_required")
	ErrInvalidCodeChallengeFormat = errors.New("invalid_code_challenge_format")
	ErrCodeNotFound               = errors.New("code_not_found")
	ErrCodeExpired                = errors.New("code_expired")
	ErrCodeAlreadyConsumed        = errors.New("code_already_consumed")
	ErrRedirectURIMismatch        = errors.New("redirect_uri_mismatch")
	ErrPKCEVerificationFailed     = errors.New("pkce_verification_failed")
	ErrTokenSigningFailed         = errors.New("token_signing_failed")
	ErrStoreUnavailable           = errors.New("store_unavailable")

	ErrInvalidClient       = errors.New("invalid_client")
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrInvalidRefreshToken = errors.New("invalid_refresh_token")
	ErrClientProtected     = errors.New("client_protected")
	ErrShuttingDown        = errors.New("shutting_down")
)

var kinds = []error{
	ErrClientNotFound, ErrInvalidRedirectURI, ErrInvalidScope, ErrPKCERequired,
	ErrInvalidCodeChallengeFormat, ErrCodeNotFound, ErrCodeExpired, ErrCodeAlreadyConsumed,
	ErrRedirectURIMismatch, ErrPKCEVerificationFailed, ErrTokenSigningFailed, ErrStoreUnavailable,
	ErrInvalidClient, ErrInvalidRequest, ErrInvalidRefreshToken, ErrClientProtected, ErrShuttingDown,
}

// IsRetryable reports whether err is a transient store failure that the
// caller may retry. Validation failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Kind returns the error code for err: "success" for nil, the sentinel's
// text for a known failure and "internal" otherwise.
func Kind(err error) string {
	if err == nil {
		return "success"
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal"
}

func violated(kind error, rule string) error {
	return fmt.Errorf("%w: %s", kind, rule)
}

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Kind(err))
	}
	span.End()
}
