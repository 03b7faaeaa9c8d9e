package authd

import (
	"errors"
	"log/slog"
	"time"

	"github.com/giantswarm/mcp-authd/providers"
	"github.com/giantswarm/mcp-authd/storage"
)

// RateLimitConfig controls per-IP rate limiting at the HTTP surface.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int
	Burst             int
}

// Config configures the HTTP handler and the authorization engine behind it.
type Config struct {
	// ServerURL is the external base URL of this server. Used as the JWT
	// issuer and for security header decisions. Required.
	ServerURL string

	// SigningSecret signs issued access tokens. Required; there is no
	// fallback secret.
	SigningSecret []byte

	// Store persists clients, codes, and refresh tokens. Required.
	Store storage.Store

	// Identity resolves end users for the authorization code flow and
	// userinfo. Optional for client-credentials-only deployments.
	Identity providers.Identity

	// Credential lifetimes. Zero selects the engine defaults.
	CodeTTL         time.Duration
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// RateLimit controls per-IP request limiting.
	RateLimit RateLimitConfig

	// TrustProxy enables client IP extraction from X-Forwarded-For and
	// X-Real-IP. Only set behind a trusted reverse proxy.
	TrustProxy        bool
	TrustedProxyCount int

	// EnableAudit turns on security event logging with hashed PII.
	EnableAudit bool

	// Logger for request and engine diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// applyDefaults fills zero-valued fields.
func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			c.RateLimit.RequestsPerSecond = 10
		}
		if c.RateLimit.Burst <= 0 {
			c.RateLimit.Burst = 20
		}
	}
}

// validate checks required configuration.
func (c *Config) validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if len(c.SigningSecret) == 0 {
		return errors.New("signing secret is required")
	}
	if c.Store == nil {
		return errors.New("storage backend is required")
	}
	return nil
}
