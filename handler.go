package authd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authd/instrumentation"
	"github.com/giantswarm/mcp-authd/providers"
	"github.com/giantswarm/mcp-authd/security"
	"github.com/giantswarm/mcp-authd/server"
)

// Handler is the HTTP surface of the authorization server.
type Handler struct {
	config  Config
	server  *server.Server
	limiter *security.RateLimiter
	auditor *security.Auditor
	inst    *instrumentation.Instrumentation
	logger  *slog.Logger
}

// NewHandler creates the HTTP handler and the engine behind it.
func NewHandler(cfg Config) (*Handler, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	inst, err := instrumentation.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instrumentation: %w", err)
	}

	auditor := security.NewAuditor(cfg.Logger, cfg.EnableAudit)

	srv, err := server.New(server.Config{
		Issuer:          cfg.ServerURL,
		SigningSecret:   cfg.SigningSecret,
		Store:           cfg.Store,
		Identity:        cfg.Identity,
		CodeTTL:         cfg.CodeTTL,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		Auditor:         auditor,
		Logger:          cfg.Logger,
	}, inst)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		config:  cfg,
		server:  srv,
		auditor: auditor,
		inst:    inst,
		logger:  cfg.Logger,
	}

	if cfg.RateLimit.Enabled {
		h.limiter = security.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.Logger)
	}

	return h, nil
}

// Server exposes the engine, e.g. for wiring a resource server to the same
// token issuer.
func (h *Handler) Server() *server.Server {
	return h.server
}

// Instrumentation exposes the metrics and tracing bundle so co-hosted
// handlers can record into the same instruments.
func (h *Handler) Instrumentation() *instrumentation.Instrumentation {
	return h.inst
}

// Close stops background goroutines.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// RegisterRoutes attaches all endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+EndpointRegister, h.wrap(h.handleRegister))
	mux.HandleFunc("GET "+EndpointAuthorize, h.wrap(h.handleAuthorize))
	mux.HandleFunc("POST "+EndpointToken, h.wrap(h.handleToken))
	mux.HandleFunc("POST "+EndpointTokenAlias, h.wrap(h.handleToken))
	mux.HandleFunc("GET "+EndpointUserInfo, h.wrap(h.handleUserInfo))
	mux.HandleFunc("GET "+EndpointClients+"/{clientID}", h.wrap(h.handleGetClient))
	mux.HandleFunc("DELETE "+EndpointClients+"/{clientID}", h.wrap(h.handleDeleteClient))
	mux.HandleFunc("OPTIONS /", h.handlePreflight)
	mux.HandleFunc("/", h.wrap(h.handleNotFound))
}

// wrap applies CORS and security headers, rate limiting, and request
// metrics to an endpoint.
func (h *Handler) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := h.inst.Tracer().Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		instrumentation.SetSpanAttributes(span,
			attribute.String(instrumentation.AttrHTTPMethod, r.Method),
			attribute.String(instrumentation.AttrHTTPEndpoint, r.URL.Path))
		r = r.WithContext(ctx)

		security.SetCORSHeaders(w)
		security.SetSecurityHeaders(w, h.config.ServerURL)

		if h.limiter != nil {
			ip := security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
			if !h.limiter.Allow(ip) {
				h.auditor.LogRateLimitExceeded(ip, r.URL.Path)
				if h.inst != nil {
					h.inst.Metrics.Add(r.Context(), h.inst.Metrics.RateLimitExceeded)
				}
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		instrumentation.SetSpanAttributes(span,
			attribute.Int(instrumentation.AttrHTTPStatusCode, rec.status))
		if rec.status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(rec.status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}

		if h.inst != nil {
			h.inst.Metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status,
				float64(time.Since(start).Milliseconds()))
		}
	}
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	security.SetCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

// handleRegister implements dynamic client registration (RFC 7591).
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}

	registered, err := h.server.RegisterClient(r.Context(), server.ClientRegistrationRequest{
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		Scope:                   req.Scope,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	client := registered.Client
	h.auditor.LogClientRegistered(client.ClientID, h.clientIP(r))
	if h.inst != nil {
		h.inst.Metrics.Add(r.Context(), h.inst.Metrics.ClientRegistered)
	}

	writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientSecret:            registered.ClientSecret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            client.RedirectURIs,
		ClientName:              client.ClientName,
		ClientURI:               client.ClientURI,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		Scope:                   client.Scope,
	})
}

// handleAuthorize implements the authorization endpoint. Validation failures
// are returned as JSON, never via redirect, because the redirect target is
// only trusted after it passes validation.
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := server.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Scope:               q.Get("scope"),
	}

	if err := h.server.ValidateAuthorizationRequest(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}

	identity := h.server.Identity()
	if identity == nil {
		h.writeError(w, r, server.NewError(server.ErrorCodeServerError,
			"authorization flow is not configured", http.StatusInternalServerError))
		return
	}

	user, err := identity.CurrentUser(r.Context(), r)
	if err != nil {
		if errors.Is(err, providers.ErrNoSession) {
			h.redirectToLogin(w, r, req)
			return
		}
		h.logger.Error("Failed to resolve current user", "error", err)
		h.writeError(w, r, server.NewError(server.ErrorCodeServerError,
			"failed to resolve session", http.StatusInternalServerError))
		return
	}

	redirect, err := h.server.IssueAuthorizationCode(r.Context(), req, user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// redirectToLogin defers the authorization request to the identity
// provider's sign-in flow, carrying the original parameters so the flow can
// resume after login.
func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request, req server.AuthorizeRequest) {
	params := url.Values{}
	params.Set("response_type", req.ResponseType)
	params.Set("client_id", req.ClientID)
	params.Set("redirect_uri", req.RedirectURI)
	params.Set("state", req.State)
	params.Set("code_challenge", req.CodeChallenge)
	params.Set("code_challenge_method", req.CodeChallengeMethod)
	if req.Scope != "" {
		params.Set("scope", req.Scope)
	}

	h.auditor.LogEvent(security.Event{
		Type:      security.EventLoginRedirect,
		ClientID:  req.ClientID,
		IPAddress: h.clientIP(r),
	})

	http.Redirect(w, r, h.server.Identity().LoginURL(params), http.StatusFound)
}

// handleToken dispatches the token endpoint by grant type.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, server.NewError(server.ErrorCodeInvalidRequest,
			"malformed request body", http.StatusBadRequest))
		return
	}

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case GrantAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case GrantClientCredentials:
		h.handleClientCredentialsGrant(w, r)
	case GrantRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	case "":
		h.writeError(w, r, server.NewError(server.ErrorCodeInvalidRequest,
			"grant_type is required", http.StatusBadRequest))
	default:
		h.writeError(w, r, server.NewError(server.ErrorCodeUnsupportedGrantType,
			"unsupported grant_type", http.StatusBadRequest))
	}
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	clientID, clientSecret := clientCredentials(r)

	resp, err := h.server.ExchangeAuthorizationCode(r.Context(), server.ExchangeRequest{
		Code:         r.PostFormValue("code"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeTokenResponse(w, resp)
}

// handleClientCredentialsGrant accepts client credentials via HTTP Basic
// authentication only.
func (h *Handler) handleClientCredentialsGrant(w http.ResponseWriter, r *http.Request) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		h.writeError(w, r, server.NewError(server.ErrorCodeInvalidClient,
			"client authentication required", http.StatusUnauthorized))
		return
	}

	resp, err := h.server.ClientCredentials(r.Context(), clientID, clientSecret, r.PostFormValue("scope"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeTokenResponse(w, resp)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	clientID, clientSecret := clientCredentials(r)

	resp, err := h.server.RefreshAccessToken(r.Context(), server.RefreshRequest{
		RefreshToken: r.PostFormValue("refresh_token"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        r.PostFormValue("scope"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeTokenResponse(w, resp)
}

// handleUserInfo resolves the claims behind a bearer token.
func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		h.writeError(w, r, server.NewError(server.ErrorCodeInvalidToken,
			"bearer token required", http.StatusUnauthorized))
		return
	}

	info, err := h.server.UserInfo(r.Context(), raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UserInfoResponse{
		Sub:        info.Sub,
		Username:   info.Username,
		Email:      info.Email,
		ClientID:   info.ClientID,
		ClientName: info.ClientName,
		Scope:      info.Scope,
	})
}

// handleGetClient returns a client's metadata without the secret.
func (h *Handler) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.server.GetClient(r.Context(), r.PathValue("clientID"))
	if err != nil {
		var oauthErr *server.Error
		if errors.As(err, &oauthErr) && oauthErr.Code == server.ErrorCodeInvalidRequest {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Client not found"})
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ClientResponse{
		ClientID:                client.ClientID,
		ClientName:              client.ClientName,
		ClientURI:               client.ClientURI,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		Scope:                   client.Scope,
		CreatedAt:               client.CreatedAt.Unix(),
		UpdatedAt:               client.UpdatedAt.Unix(),
	})
}

// handleDeleteClient removes a client registration. Deletion is idempotent.
func (h *Handler) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientID")
	if err := h.server.DeleteClient(r.Context(), clientID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.inst != nil {
		h.inst.Metrics.Add(r.Context(), h.inst.Metrics.ClientDeleted)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, resp *server.TokenResponse) {
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope,
	})
}

// writeError maps engine errors onto the OAuth error body. Unrecognized
// errors are logged and reported as a generic server error.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oauthErr *server.Error
	if errors.As(err, &oauthErr) {
		writeJSON(w, oauthErr.Status, ErrorResponse{
			Error:            oauthErr.Code,
			ErrorDescription: oauthErr.Description,
		})
		return
	}

	h.logger.Error("Unhandled error", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:            server.ErrorCodeServerError,
		ErrorDescription: "internal server error",
	})
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
}

// clientCredentials extracts client credentials from HTTP Basic auth,
// falling back to form parameters.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// bearerToken extracts a bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return auth[len(prefix):], true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
