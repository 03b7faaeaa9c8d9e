package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage backends. Messages are generic to
// prevent enumeration of clients and tokens through error bodies.
var (
	// ErrClientNotFound is returned when a client ID does not resolve.
	ErrClientNotFound = errors.New("client not found")

	// ErrCodeNotFound is returned when an authorization code does not exist
	// or has already been consumed.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrRefreshTokenNotFound is returned when a refresh token does not exist
	// or has already been rotated.
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)

// Client represents a registered OAuth client.
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash; the plaintext secret is returned once at registration
	ClientName              string
	ClientURI               string
	RedirectURIs            []string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scope                   string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// AuthorizationCode represents an issued authorization code. A code is
// redeemable at most once and only before ExpiresAt.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	UserID              string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Scope               string
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// RefreshToken represents a rotating refresh token. Each successful use
// replaces the record with a new one bound to the same client/user/scope.
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a registered client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID, or ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// DeleteClient removes a client. Deleting an absent client is not an error.
	DeleteClient(ctx context.Context, clientID string) error
}

// CodeStore defines the interface for ephemeral authorization code records.
type CodeStore interface {
	// SaveAuthorizationCode persists an issued authorization code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code without consuming it, or
	// ErrCodeNotFound.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// TakeAuthorizationCode atomically retrieves and deletes an authorization
	// code. Returns ErrCodeNotFound if the code is absent or was already
	// consumed. This operation MUST be atomic so that two concurrent
	// redemptions of the same code cannot both succeed.
	TakeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code. Deleting an absent code is not
	// an error.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// RefreshTokenStore defines the interface for rotating refresh token records.
type RefreshTokenStore interface {
	// SaveRefreshToken persists a refresh token.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token without consuming it, or
	// ErrRefreshTokenNotFound.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// TakeRefreshToken atomically retrieves and deletes a refresh token.
	// This is the synchronization point for rotation: only one concurrent
	// use of a given token can succeed.
	TakeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token. Deleting an absent token is
	// not an error.
	DeleteRefreshToken(ctx context.Context, token string) error
}

// Store combines all storage capabilities needed by the OAuth engine.
// Backends typically implement all of them on a single type.
type Store interface {
	ClientStore
	CodeStore
	RefreshTokenStore
}
