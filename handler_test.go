package authd

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/mcp-authd/providers"
	"github.com/giantswarm/mcp-authd/providers/mock"
	"github.com/giantswarm/mcp-authd/storage/memory"
)

const testRedirectURI = "https://app.example.com/callback"

func newTestHandler(t *testing.T) (*Handler, *mock.Provider, *http.ServeMux) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)

	identity := mock.New()
	handler, err := NewHandler(Config{
		ServerURL:     "http://localhost:8080",
		SigningSecret: []byte("test-secret"),
		Store:         store,
		Identity:      identity,
	})
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}
	t.Cleanup(handler.Close)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return handler, identity, mux
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}

// registerTestClient registers a public authorization-code client through
// the HTTP surface.
func registerTestClient(t *testing.T, mux *http.ServeMux) ClientRegistrationResponse {
	t.Helper()
	body := `{
		"client_name": "Test App",
		"redirect_uris": ["` + testRedirectURI + `"],
		"grant_types": ["authorization_code", "refresh_token"],
		"token_endpoint_auth_method": "none"
	}`
	req := httptest.NewRequest(http.MethodPost, EndpointRegister, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("registration status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decodeBody[ClientRegistrationResponse](t, rec)
}

func TestRegisterEndpoint(t *testing.T) {
	_, _, mux := newTestHandler(t)

	resp := registerTestClient(t, mux)
	if resp.ClientID == "" {
		t.Error("expected client_id")
	}
	if resp.ClientSecret == "" {
		t.Error("expected client_secret")
	}
	if resp.ClientSecretExpiresAt != 0 {
		t.Errorf("client_secret_expires_at = %d, want 0", resp.ClientSecretExpiresAt)
	}
	if resp.ClientIDIssuedAt == 0 {
		t.Error("expected client_id_issued_at")
	}
}

func TestRegisterEndpointRejectsMalformedJSON(t *testing.T) {
	_, _, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, EndpointRegister, strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["error"] != "Invalid request" {
		t.Errorf(`error = %q, want "Invalid request"`, body["error"])
	}
}

func authorizeURL(clientID, verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", testRedirectURI)
	q.Set("state", "xyz")
	q.Set("code_challenge", base64.RawURLEncoding.EncodeToString(sum[:]))
	q.Set("code_challenge_method", "S256")
	return EndpointAuthorize + "?" + q.Encode()
}

func TestAuthorizeRedirectsToLoginWithoutSession(t *testing.T) {
	_, _, mux := newTestHandler(t)
	client := registerTestClient(t, mux)

	req := httptest.NewRequest(http.MethodGet, authorizeURL(client.ClientID, strings.Repeat("v", 50)), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location header: %v", err)
	}
	if location.Path != "/auth/login" {
		t.Errorf("login path = %q, want /auth/login", location.Path)
	}
	for _, param := range []string{"client_id", "redirect_uri", "state", "code_challenge", "code_challenge_method"} {
		if location.Query().Get(param) == "" {
			t.Errorf("login redirect missing %s", param)
		}
	}
}

func TestAuthorizeIssuesCodeWithSession(t *testing.T) {
	_, identity, mux := newTestHandler(t)
	client := registerTestClient(t, mux)
	identity.SetUser(&providers.UserInfo{ID: "user-1", Username: "alice"})

	req := httptest.NewRequest(http.MethodGet, authorizeURL(client.ClientID, strings.Repeat("v", 50)), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location header: %v", err)
	}
	if got := location.Scheme + "://" + location.Host + location.Path; got != testRedirectURI {
		t.Errorf("redirect target = %q, want %q", got, testRedirectURI)
	}
	if location.Query().Get("code") == "" {
		t.Error("redirect missing code")
	}
	if location.Query().Get("state") != "xyz" {
		t.Errorf("state = %q, want xyz", location.Query().Get("state"))
	}
}

func TestAuthorizeRejectsInvalidRequestsWithoutRedirect(t *testing.T) {
	_, identity, mux := newTestHandler(t)
	client := registerTestClient(t, mux)
	identity.SetUser(&providers.UserInfo{ID: "user-1"})

	tests := []struct {
		name       string
		query      url.Values
		wantStatus int
		wantError  string
	}{
		{
			name: "missing code_challenge",
			query: url.Values{
				"response_type": {"code"},
				"client_id":     {client.ClientID},
				"redirect_uri":  {testRedirectURI},
				"state":         {"xyz"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name: "plain challenge method",
			query: url.Values{
				"response_type":         {"code"},
				"client_id":             {client.ClientID},
				"redirect_uri":          {testRedirectURI},
				"state":                 {"xyz"},
				"code_challenge":        {"abc"},
				"code_challenge_method": {"plain"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name: "unregistered redirect_uri",
			query: url.Values{
				"response_type":         {"code"},
				"client_id":             {client.ClientID},
				"redirect_uri":          {"https://evil.example.com/cb"},
				"state":                 {"xyz"},
				"code_challenge":        {"abc"},
				"code_challenge_method": {"S256"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid_request",
		},
		{
			name: "unknown client",
			query: url.Values{
				"response_type":         {"code"},
				"client_id":             {"no-such-client"},
				"redirect_uri":          {testRedirectURI},
				"state":                 {"xyz"},
				"code_challenge":        {"abc"},
				"code_challenge_method": {"S256"},
			},
			wantStatus: http.StatusBadRequest,
			wantError:  "unauthorized_client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, EndpointAuthorize+"?"+tt.query.Encode(), nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if loc := rec.Header().Get("Location"); loc != "" {
				t.Errorf("validation failure must not redirect, got Location %q", loc)
			}
			body := decodeBody[ErrorResponse](t, rec)
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
		})
	}
}

// fullCodeFlow drives registration, authorization, and exchange through the
// HTTP surface and returns the token response.
func fullCodeFlow(t *testing.T, identity *mock.Provider, mux *http.ServeMux) (ClientRegistrationResponse, TokenResponse) {
	t.Helper()
	client := registerTestClient(t, mux)
	identity.SetUser(&providers.UserInfo{ID: "user-1", Username: "alice", Email: "alice@example.com"})

	verifier := strings.Repeat("v", 50)
	req := httptest.NewRequest(http.MethodGet, authorizeURL(client.ClientID, verifier), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, body %s", rec.Code, rec.Body.String())
	}
	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location header: %v", err)
	}
	code := location.Query().Get("code")
	if code == "" {
		t.Fatal("no code in redirect")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", client.ClientID)
	form.Set("redirect_uri", testRedirectURI)
	form.Set("code_verifier", verifier)

	tokenReq := httptest.NewRequest(http.MethodPost, EndpointToken, strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	tokenRec := httptest.NewRecorder()
	mux.ServeHTTP(tokenRec, tokenReq)
	if tokenRec.Code != http.StatusOK {
		t.Fatalf("token status = %d, body %s", tokenRec.Code, tokenRec.Body.String())
	}

	return client, decodeBody[TokenResponse](t, tokenRec)
}

func TestTokenEndpointFullFlow(t *testing.T) {
	_, identity, mux := newTestHandler(t)
	_, tokens := fullCodeFlow(t, identity, mux)

	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Errorf("incomplete token response: %+v", tokens)
	}
	if tokens.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", tokens.TokenType)
	}
	if tokens.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", tokens.ExpiresIn)
	}
}

func TestTokenEndpointAlias(t *testing.T) {
	_, identity, mux := newTestHandler(t)
	client := registerTestClient(t, mux)
	identity.SetUser(&providers.UserInfo{ID: "user-1"})

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", "bogus")
	form.Set("client_id", client.ClientID)

	req := httptest.NewRequest(http.MethodPost, EndpointTokenAlias, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	// The alias must reach the same dispatcher: a proper OAuth error, not 404.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody[ErrorResponse](t, rec)
	if body.Error != "invalid_grant" {
		t.Errorf("error = %q, want invalid_grant", body.Error)
	}
}

func TestTokenEndpointUnsupportedGrant(t *testing.T) {
	_, _, mux := newTestHandler(t)

	form := url.Values{}
	form.Set("grant_type", "password")
	req := httptest.NewRequest(http.MethodPost, EndpointToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody[ErrorResponse](t, rec)
	if body.Error != "unsupported_grant_type" {
		t.Errorf("error = %q, want unsupported_grant_type", body.Error)
	}
}

func TestClientCredentialsRequiresBasicAuth(t *testing.T) {
	_, _, mux := newTestHandler(t)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req := httptest.NewRequest(http.MethodPost, EndpointToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeBody[ErrorResponse](t, rec)
	if body.Error != "invalid_client" {
		t.Errorf("error = %q, want invalid_client", body.Error)
	}
}

func TestClientCredentialsWithBasicAuth(t *testing.T) {
	_, _, mux := newTestHandler(t)

	body := `{"client_name": "Service", "scope": "mcp:tools"}`
	regReq := httptest.NewRequest(http.MethodPost, EndpointRegister, strings.NewReader(body))
	regRec := httptest.NewRecorder()
	mux.ServeHTTP(regRec, regReq)
	client := decodeBody[ClientRegistrationResponse](t, regRec)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req := httptest.NewRequest(http.MethodPost, EndpointToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(client.ClientID, client.ClientSecret)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	tokens := decodeBody[TokenResponse](t, rec)
	if tokens.AccessToken == "" {
		t.Error("expected access token")
	}
	if tokens.RefreshToken != "" {
		t.Error("client_credentials must not issue a refresh token")
	}
}

func TestUserInfoEndpoint(t *testing.T) {
	_, identity, mux := newTestHandler(t)
	_, tokens := fullCodeFlow(t, identity, mux)

	req := httptest.NewRequest(http.MethodGet, EndpointUserInfo, nil)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	info := decodeBody[UserInfoResponse](t, rec)
	if info.Sub != "user-1" || info.Username != "alice" {
		t.Errorf("unexpected userinfo: %+v", info)
	}
}

func TestUserInfoRequiresBearer(t *testing.T) {
	_, _, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, EndpointUserInfo, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	body := decodeBody[ErrorResponse](t, rec)
	if body.Error != "invalid_token" {
		t.Errorf("error = %q, want invalid_token", body.Error)
	}
}

func TestClientManagementEndpoints(t *testing.T) {
	_, _, mux := newTestHandler(t)
	client := registerTestClient(t, mux)

	req := httptest.NewRequest(http.MethodGet, EndpointClients+"/"+client.ClientID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Errorf("client read-back leaks secret material: %s", rec.Body.String())
	}
	got := decodeBody[ClientResponse](t, rec)
	if got.ClientID != client.ClientID {
		t.Errorf("client_id = %q, want %q", got.ClientID, client.ClientID)
	}

	req = httptest.NewRequest(http.MethodGet, EndpointClients+"/no-such-client", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET unknown client status = %d, want 404", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, EndpointClients+"/"+client.ClientID, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, EndpointClients+"/"+client.ClientID, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", rec.Code)
	}
}

func TestCORSHeadersOnErrorResponses(t *testing.T) {
	_, _, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, EndpointRegister, strings.NewReader("{bad"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("error response missing CORS headers")
	}
}

func TestPreflight(t *testing.T) {
	_, _, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodOptions, EndpointToken, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight missing CORS headers")
	}
}

func TestNotFoundReturnsJSON(t *testing.T) {
	_, _, mux := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/does/not/exist", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["error"] != "Not found" {
		t.Errorf(`error = %q, want "Not found"`, body["error"])
	}
}
