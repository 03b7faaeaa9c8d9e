package server

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-authd/instrumentation"
	"github.com/giantswarm/mcp-authd/security"
	"github.com/giantswarm/mcp-authd/storage"
	"github.com/giantswarm/mcp-authd/token"
)

// AuthorizeRequest carries the query parameters of an authorization request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scope               string
}

// TokenResponse is the result of a successful token grant.
type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Scope        string
}

// UserInfoResponse carries the claims returned by the userinfo endpoint.
// User-bound tokens populate Username/Email; client-bound tokens populate
// ClientID/ClientName/Scope. Sub is always set.
type UserInfoResponse struct {
	Sub        string
	Username   string
	Email      string
	ClientID   string
	ClientName string
	Scope      string
}

// ValidateAuthorizationRequest checks an authorization request before any
// redirect is issued. Failures here are returned directly to the caller,
// never via the redirect URI, since the redirect target is not yet trusted.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req AuthorizeRequest) error {
	switch {
	case req.ResponseType == "":
		return invalidRequest("response_type is required")
	case req.ClientID == "":
		return invalidRequest("client_id is required")
	case req.RedirectURI == "":
		return invalidRequest("redirect_uri is required")
	case req.CodeChallenge == "":
		return invalidRequest("code_challenge is required")
	case req.CodeChallengeMethod == "":
		return invalidRequest("code_challenge_method is required")
	case req.State == "":
		return invalidRequest("state is required")
	}

	if req.ResponseType != "code" {
		return invalidRequest("unsupported response_type")
	}
	if req.CodeChallengeMethod != "S256" {
		return invalidRequest("code_challenge_method must be S256")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return unauthorizedClient("unknown client")
		}
		return serverError("failed to load client")
	}

	if !isRegisteredRedirectURI(client, req.RedirectURI) {
		return invalidRequest("redirect_uri is not registered for this client")
	}

	return nil
}

// IssueAuthorizationCode mints a single-use code bound to the validated
// request and the authenticated user, and returns the full redirect URL
// carrying code and state.
func (s *Server) IssueAuthorizationCode(ctx context.Context, req AuthorizeRequest, userID string) (string, error) {
	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:                generateToken(),
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		UserID:              userID,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		State:               req.State,
		Scope:               req.Scope,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.CodeTTL),
	}

	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		s.logger.Error("Failed to save authorization code", "client_id", req.ClientID, "error", err)
		return "", serverError("failed to issue authorization code")
	}

	if s.inst != nil {
		s.inst.Metrics.Add(ctx, s.inst.Metrics.AuthorizationStarted,
			attribute.String(instrumentation.AttrClientID, req.ClientID))
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", invalidRequest("invalid redirect_uri")
	}
	q := redirect.Query()
	q.Set("code", code.Code)
	q.Set("state", req.State)
	redirect.RawQuery = q.Encode()

	s.auditor.LogEvent(security.Event{
		Type:     security.EventAuthorizationCodeIssued,
		UserID:   userID,
		ClientID: req.ClientID,
	})
	s.logger.Info("Authorization code issued",
		"client_id", req.ClientID,
		"expires_at", code.ExpiresAt)

	return redirect.String(), nil
}

// ExchangeRequest carries the parameters of an authorization_code token
// request.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

// ExchangeAuthorizationCode redeems an authorization code for tokens. The
// code is consumed atomically before any validation so that concurrent
// redemptions of the same code cannot both succeed; a failed validation
// burns the code, which is the safe outcome.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	ctx, span := s.inst.Tracer().Start(ctx, "oauth.exchange_authorization_code")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, "authorization_code"))
	instrumentation.AddFlowAttributes(span, req.ClientID, "", "")

	resp, err := s.exchangeAuthorizationCode(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) exchangeAuthorizationCode(ctx context.Context, req ExchangeRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, invalidRequest("code is required")
	}
	if req.ClientID == "" {
		return nil, invalidRequest("client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, invalidRequest("redirect_uri is required")
	}
	if req.CodeVerifier == "" {
		return nil, invalidRequest("code_verifier is required")
	}

	stored, err := s.store.TakeAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			if s.inst != nil {
				s.inst.Metrics.Add(ctx, s.inst.Metrics.CodeReuseDetected)
			}
			return nil, invalidGrant("invalid or expired authorization code")
		}
		return nil, serverError("failed to load authorization code")
	}

	if stored.ClientID != req.ClientID {
		s.auditor.LogAuthFailure(stored.UserID, req.ClientID, "", "code client mismatch")
		return nil, invalidGrant("invalid or expired authorization code")
	}

	if time.Now().After(stored.ExpiresAt) {
		return nil, invalidGrant("invalid or expired authorization code")
	}

	if req.RedirectURI != stored.RedirectURI {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, invalidGrant("invalid or expired authorization code")
		}
		return nil, serverError("failed to load client")
	}
	if !isRegisteredRedirectURI(client, req.RedirectURI) {
		return nil, invalidGrant("redirect_uri does not match the authorization request")
	}

	if err := s.authenticateForToken(client, req.ClientSecret); err != nil {
		return nil, err
	}

	if err := validatePKCE(stored.CodeChallenge, stored.CodeChallengeMethod, req.CodeVerifier); err != nil {
		if s.inst != nil {
			s.inst.Metrics.Add(ctx, s.inst.Metrics.PKCEValidationFailed,
				attribute.String(instrumentation.AttrClientID, req.ClientID))
		}
		s.auditor.LogEvent(security.Event{
			Type:     security.EventInvalidPKCE,
			UserID:   stored.UserID,
			ClientID: req.ClientID,
		})
		return nil, err
	}

	resp, err := s.issueTokens(ctx, client, stored.UserID, stored.Scope, true)
	if err != nil {
		return nil, err
	}

	if s.inst != nil {
		s.inst.Metrics.Add(ctx, s.inst.Metrics.CodeExchanged,
			attribute.String(instrumentation.AttrClientID, req.ClientID))
	}
	s.auditor.LogTokenIssued(stored.UserID, req.ClientID, "", stored.Scope)

	return resp, nil
}

// ClientCredentials performs the client_credentials grant. No refresh token
// is issued; the client can always re-authenticate.
func (s *Server) ClientCredentials(ctx context.Context, clientID, clientSecret, scope string) (*TokenResponse, error) {
	ctx, span := s.inst.Tracer().Start(ctx, "oauth.client_credentials")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, "client_credentials"))
	instrumentation.AddFlowAttributes(span, clientID, "", scope)

	resp, err := s.clientCredentials(ctx, clientID, clientSecret, scope)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) clientCredentials(ctx context.Context, clientID, clientSecret, scope string) (*TokenResponse, error) {
	client, err := s.AuthenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		s.auditor.LogAuthFailure("", clientID, "", "client credentials rejected")
		if s.inst != nil {
			s.inst.Metrics.Add(ctx, s.inst.Metrics.AuthFailures,
				attribute.String(instrumentation.AttrGrantType, "client_credentials"))
		}
		return nil, err
	}

	if scope == "" {
		scope = client.Scope
	}

	resp, err := s.issueTokens(ctx, client, "", scope, false)
	if err != nil {
		return nil, err
	}

	s.auditor.LogTokenIssued("", clientID, "", scope)
	return resp, nil
}

// RefreshRequest carries the parameters of a refresh_token grant.
type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
	Scope        string
}

// RefreshAccessToken rotates a refresh token: the presented token is
// consumed atomically and a replacement bound to the same client, user, and
// scope is issued alongside the new access token. Only one concurrent use of
// a given refresh token can succeed.
func (s *Server) RefreshAccessToken(ctx context.Context, req RefreshRequest) (*TokenResponse, error) {
	ctx, span := s.inst.Tracer().Start(ctx, "oauth.refresh_access_token")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, "refresh_token"))
	instrumentation.AddFlowAttributes(span, req.ClientID, "", req.Scope)

	resp, err := s.refreshAccessToken(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (s *Server) refreshAccessToken(ctx context.Context, req RefreshRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, invalidRequest("refresh_token is required")
	}
	if req.ClientID == "" {
		return nil, invalidRequest("client_id is required")
	}

	stored, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			return nil, invalidGrant("invalid or expired refresh token")
		}
		return nil, serverError("failed to load refresh token")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, invalidClient("client authentication failed")
		}
		return nil, serverError("failed to load client")
	}
	if err := s.authenticateForToken(client, req.ClientSecret); err != nil {
		return nil, err
	}

	if stored.ClientID != req.ClientID {
		s.auditor.LogAuthFailure(stored.UserID, req.ClientID, "", "refresh token client mismatch")
		return nil, invalidClient("client authentication failed")
	}

	if time.Now().After(stored.ExpiresAt) {
		_ = s.store.DeleteRefreshToken(ctx, req.RefreshToken)
		return nil, invalidGrant("invalid or expired refresh token")
	}

	// Rotation synchronization point: only the caller that wins the take
	// proceeds.
	if _, err := s.store.TakeRefreshToken(ctx, req.RefreshToken); err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			return nil, invalidGrant("invalid or expired refresh token")
		}
		return nil, serverError("failed to rotate refresh token")
	}

	scope := stored.Scope
	if req.Scope != "" {
		scope = req.Scope
	}

	resp, err := s.issueTokens(ctx, client, stored.UserID, scope, true)
	if err != nil {
		return nil, err
	}

	if s.inst != nil {
		s.inst.Metrics.Add(ctx, s.inst.Metrics.TokenRefreshed,
			attribute.String(instrumentation.AttrClientID, req.ClientID))
	}
	s.auditor.LogTokenRefreshed(stored.UserID, req.ClientID, "", true)

	return resp, nil
}

// UserInfo resolves the claims behind a bearer token. User-bound tokens are
// resolved through the identity provider; client-bound tokens return the
// client's registered metadata.
func (s *Server) UserInfo(ctx context.Context, rawToken string) (*UserInfoResponse, error) {
	claims, err := s.issuer.Verify(rawToken)
	if err != nil {
		return nil, invalidToken("invalid or expired token")
	}

	if claims.UserID != "" {
		return s.userInfoForUser(ctx, claims)
	}
	return s.userInfoForClient(ctx, claims)
}

func (s *Server) userInfoForUser(ctx context.Context, claims *token.Claims) (*UserInfoResponse, error) {
	if s.identity == nil {
		return nil, invalidToken("invalid or expired token")
	}
	user, err := s.identity.Lookup(ctx, claims.UserID)
	if err != nil {
		s.logger.Warn("Userinfo lookup failed", "error", err)
		return nil, invalidToken("invalid or expired token")
	}
	return &UserInfoResponse{
		Sub:      user.ID,
		Username: user.Username,
		Email:    user.Email,
	}, nil
}

func (s *Server) userInfoForClient(ctx context.Context, claims *token.Claims) (*UserInfoResponse, error) {
	client, err := s.store.GetClient(ctx, claims.ClientID)
	if err != nil {
		return nil, invalidToken("invalid or expired token")
	}
	return &UserInfoResponse{
		Sub:        client.ClientID,
		ClientID:   client.ClientID,
		ClientName: client.ClientName,
		Scope:      claims.Scope,
	}, nil
}

// authenticateForToken enforces the client's token endpoint authentication
// method. Public clients (method "none") authenticate through PKCE alone;
// confidential clients must present their secret.
func (s *Server) authenticateForToken(client *storage.Client, clientSecret string) error {
	if client.TokenEndpointAuthMethod == "none" {
		return nil
	}
	if clientSecret == "" {
		return invalidRequest("client_secret is required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return invalidClient("client authentication failed")
	}
	return nil
}

// issueTokens mints an access token, and optionally a refresh token, bound
// to the given client, user, and scope.
func (s *Server) issueTokens(ctx context.Context, client *storage.Client, userID, scope string, withRefresh bool) (*TokenResponse, error) {
	access, err := s.issuer.Sign(token.Claims{
		ClientID: client.ClientID,
		UserID:   userID,
		Scope:    scope,
	}, s.config.AccessTokenTTL)
	if err != nil {
		s.logger.Error("Failed to sign access token", "client_id", client.ClientID, "error", err)
		return nil, serverError("failed to issue token")
	}

	resp := &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.AccessTokenTTL / time.Second),
		Scope:       scope,
	}

	if withRefresh {
		now := time.Now()
		refresh := &storage.RefreshToken{
			Token:     generateToken(),
			ClientID:  client.ClientID,
			UserID:    userID,
			Scope:     scope,
			CreatedAt: now,
			ExpiresAt: now.Add(s.config.RefreshTokenTTL),
		}
		if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
			s.logger.Error("Failed to save refresh token", "client_id", client.ClientID, "error", err)
			return nil, serverError("failed to issue token")
		}
		resp.RefreshToken = refresh.Token
	}

	if s.inst != nil {
		s.inst.Metrics.Add(ctx, s.inst.Metrics.TokenIssued,
			attribute.String(instrumentation.AttrClientID, client.ClientID))
	}

	return resp, nil
}
