package server

import "net/http"

// OAuth 2.1 error codes returned in JSON error responses.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
)

// Error is a protocol-level error carrying the OAuth error code, a
// human-readable description, and the HTTP status it maps to.
//
// Descriptions are intentionally generic for client-supplied failures so
// responses cannot be used to enumerate registered clients or valid codes.
type Error struct {
	Code        string
	Description string
	Status      int
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// NewError creates a protocol error with an explicit HTTP status.
func NewError(code, description string, status int) *Error {
	return &Error{Code: code, Description: description, Status: status}
}

// Common constructors for the error taxonomy.

func invalidRequest(description string) *Error {
	return NewError(ErrorCodeInvalidRequest, description, http.StatusBadRequest)
}

func invalidClient(description string) *Error {
	return NewError(ErrorCodeInvalidClient, description, http.StatusUnauthorized)
}

func invalidGrant(description string) *Error {
	return NewError(ErrorCodeInvalidGrant, description, http.StatusBadRequest)
}

func invalidToken(description string) *Error {
	return NewError(ErrorCodeInvalidToken, description, http.StatusUnauthorized)
}

func unauthorizedClient(description string) *Error {
	return NewError(ErrorCodeUnauthorizedClient, description, http.StatusBadRequest)
}

func serverError(description string) *Error {
	return NewError(ErrorCodeServerError, description, http.StatusInternalServerError)
}
