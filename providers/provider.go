package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// ErrNoSession is returned by CurrentUser when no authenticated principal is
// present on the request. Callers should redirect to LoginURL rather than
// fail.
var ErrNoSession = errors.New("no authenticated session")

// Identity is the identity-provider collaborator interface.
type Identity interface {
	// CurrentUser returns the authenticated principal attached to the
	// request, or ErrNoSession when the user has not signed in yet.
	CurrentUser(ctx context.Context, r *http.Request) (*UserInfo, error)

	// Lookup returns the identifying claims for a known principal.
	// Used by the userinfo endpoint for user-bound tokens.
	Lookup(ctx context.Context, userID string) (*UserInfo, error)

	// LoginURL returns the provider's sign-in URL carrying the original
	// authorization parameters so the flow can resume after login.
	LoginURL(params url.Values) string
}

// UserInfo represents the identifying claims of a human principal as known
// to the identity provider.
type UserInfo struct {
	// ID is the unique user identifier.
	ID string

	// Username is the sign-in identifier (login ID).
	Username string

	// Email is the user's email address, if known.
	Email string
}
