package server

import (
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authd/instrumentation"
	"github.com/giantswarm/mcp-authd/providers"
	"github.com/giantswarm/mcp-authd/security"
	"github.com/giantswarm/mcp-authd/storage"
	"github.com/giantswarm/mcp-authd/token"
)

// Server is the OAuth 2.1 authorization engine.
type Server struct {
	config   Config
	store    storage.Store
	issuer   *token.Issuer
	identity providers.Identity
	auditor  *security.Auditor
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
}

// New creates an authorization engine from the given configuration.
func New(cfg Config, inst *instrumentation.Instrumentation) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	issuer, err := cfg.newIssuer()
	if err != nil {
		return nil, err
	}

	return &Server{
		config:   cfg,
		store:    cfg.Store,
		issuer:   issuer,
		identity: cfg.Identity,
		auditor:  cfg.Auditor,
		logger:   cfg.Logger,
		inst:     inst,
	}, nil
}

// Issuer exposes the token issuer for bearer verification at resource
// endpoints.
func (s *Server) Issuer() *token.Issuer {
	return s.issuer
}

// Identity returns the configured identity provider, or nil.
func (s *Server) Identity() providers.Identity {
	return s.identity
}

// generateToken returns a fresh high-entropy opaque credential, used for
// authorization codes and refresh tokens.
func generateToken() string {
	return oauth2.GenerateVerifier()
}
