package authd

import "github.com/giantswarm/mcp-authd/server"

// OAuthError is the protocol error type produced by the engine. Handlers
// translate it into the {error, error_description} body with the mapped
// HTTP status.
type OAuthError = server.Error

// OAuth error codes, re-exported for callers embedding the handler.
const (
	ErrorCodeInvalidRequest       = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient        = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant         = server.ErrorCodeInvalidGrant
	ErrorCodeInvalidToken         = server.ErrorCodeInvalidToken
	ErrorCodeUnauthorizedClient   = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType = server.ErrorCodeUnsupportedGrantType
	ErrorCodeServerError          = server.ErrorCodeServerError
)
