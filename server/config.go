package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-authd/providers"
	"github.com/giantswarm/mcp-authd/security"
	"github.com/giantswarm/mcp-authd/storage"
	"github.com/giantswarm/mcp-authd/token"
)

// Default lifetimes for issued credentials.
const (
	DefaultCodeTTL         = 10 * time.Minute
	DefaultAccessTokenTTL  = 1 * time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Config holds the authorization engine configuration.
type Config struct {
	// Issuer is the external base URL of this server, used as the JWT
	// issuer claim. Required.
	Issuer string

	// SigningSecret is the symmetric key used to sign access tokens.
	// Required; there is no fallback secret.
	SigningSecret []byte

	// Store persists clients, authorization codes, and refresh tokens.
	Store storage.Store

	// Identity resolves the authenticated end user during the
	// authorization flow and at the userinfo endpoint. Required for the
	// authorization code flow; client-only deployments may omit it.
	Identity providers.Identity

	// Credential lifetimes. Zero values select the defaults above.
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Auditor records security events. Optional.
	Auditor *security.Auditor

	// Logger for engine diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// applyDefaults fills zero-valued fields with secure defaults.
func (c *Config) applyDefaults() {
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// validate checks required configuration.
func (c *Config) validate() error {
	if c.Issuer == "" {
		return errors.New("issuer URL is required")
	}
	if len(c.SigningSecret) == 0 {
		return errors.New("signing secret is required")
	}
	if c.Store == nil {
		return errors.New("storage backend is required")
	}
	return nil
}

// newIssuer builds the token issuer from the validated config.
func (c *Config) newIssuer() (*token.Issuer, error) {
	return token.NewIssuer(c.SigningSecret, c.Issuer)
}
