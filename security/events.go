package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new access token is issued to a client.
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed using a
	// refresh token.
	EventTokenRefreshed = "token_refreshed"

	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when an authorization code is issued.
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventLoginRedirect is logged when an authorization request is deferred
	// to the identity provider's login flow.
	EventLoginRedirect = "login_redirect"

	// Client registration events

	// EventClientRegistered is logged when a new OAuth client is registered.
	EventClientRegistered = "client_registered"

	// EventClientDeleted is logged when a client registration is removed.
	EventClientDeleted = "client_deleted"

	// Security violation events

	// EventAuthFailure is logged when authentication fails.
	EventAuthFailure = "auth_failure"

	// EventInvalidPKCE is logged when PKCE validation fails.
	EventInvalidPKCE = "invalid_pkce"

	// EventRateLimitExceeded is logged when a rate limit is exceeded.
	EventRateLimitExceeded = "rate_limit_exceeded"
)
