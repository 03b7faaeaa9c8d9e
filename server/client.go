package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authd/security"
	"github.com/giantswarm/mcp-authd/storage"
)

// clientSecretBytes is the entropy of generated client secrets.
const clientSecretBytes = 32

// ClientRegistrationRequest carries the RFC 7591 metadata accepted at the
// registration endpoint.
type ClientRegistrationRequest struct {
	RedirectURIs            []string
	ClientName              string
	ClientURI               string
	GrantTypes              []string
	ResponseTypes           []string
	TokenEndpointAuthMethod string
	Scope                   string
}

// RegisteredClient is the result of a successful registration. ClientSecret
// holds the plaintext secret and is only populated here; at rest the secret
// exists solely as a bcrypt hash.
type RegisteredClient struct {
	Client       *storage.Client
	ClientSecret string
}

// RegisterClient registers a new OAuth client with generated credentials.
func (s *Server) RegisterClient(ctx context.Context, req ClientRegistrationRequest) (*RegisteredClient, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	secret, err := generateClientSecret()
	if err != nil {
		return nil, serverError("failed to generate client credentials")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, serverError("failed to generate client credentials")
	}

	now := time.Now()
	client := &storage.Client{
		ClientID:                uuid.NewString(),
		ClientSecretHash:        string(hash),
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{"client_credentials"}
	}
	if len(client.ResponseTypes) == 0 && clientAllowsGrant(client, "authorization_code") {
		client.ResponseTypes = []string{"code"}
	}
	if client.TokenEndpointAuthMethod == "" {
		client.TokenEndpointAuthMethod = "client_secret_basic"
	}

	if err := s.store.SaveClient(ctx, client); err != nil {
		s.logger.Error("Failed to save client registration", "error", err)
		return nil, serverError("failed to register client")
	}

	s.logger.Info("Client registered",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"grant_types", client.GrantTypes)

	return &RegisteredClient{Client: client, ClientSecret: secret}, nil
}

// GetClient returns a client's stored metadata.
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, invalidRequest("client not found")
		}
		return nil, serverError("failed to load client")
	}
	return client, nil
}

// DeleteClient removes a client registration. Outstanding tokens remain
// valid until they expire.
func (s *Server) DeleteClient(ctx context.Context, clientID string) error {
	if err := s.store.DeleteClient(ctx, clientID); err != nil {
		s.logger.Error("Failed to delete client", "client_id", clientID, "error", err)
		return serverError("failed to delete client")
	}
	s.auditor.LogEvent(security.Event{
		Type:     security.EventClientDeleted,
		ClientID: clientID,
	})
	s.logger.Info("Client deleted", "client_id", clientID)
	return nil
}

// AuthenticateClient verifies client credentials against the stored bcrypt
// hash. It returns the client on success and a generic invalid_client error
// on any failure, so responses cannot distinguish unknown clients from wrong
// secrets.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	if clientID == "" || clientSecret == "" {
		return nil, invalidClient("client authentication failed")
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrClientNotFound) {
			s.logger.Error("Failed to load client for authentication", "error", err)
		}
		return nil, invalidClient("client authentication failed")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return nil, invalidClient("client authentication failed")
	}

	return client, nil
}

func validateRegistration(req ClientRegistrationRequest) error {
	for _, raw := range req.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() {
			return invalidRequest(fmt.Sprintf("invalid redirect_uri: %s", raw))
		}
		if u.Fragment != "" {
			return invalidRequest("redirect_uri must not contain a fragment")
		}
	}
	return nil
}

func generateClientSecret() (string, error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
