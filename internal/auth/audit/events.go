package audit

// Event types.
const (
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"
	EventTokensRevokedAfterReuse        = "tokens_revoked_after_code_reuse"
	EventTokenRefreshed                 = "token_refreshed"
	EventRefreshTokenReuseDetected      = "refresh_token_reuse_detected"
	EventInvalidPKCE                    = "invalid_pkce"
	EventRedirectURIMismatch            = "redirect_uri_mismatch"
	EventClientAuthFailure              = "client_auth_failure"
	EventBootstrapAdminCreated          = "bootstrap_admin_created"
	EventClientDisabled                 = "client_disabled"
)
