package authd

// Endpoint paths served by the handler.
const (
	EndpointRegister  = "/dcr"
	EndpointAuthorize = "/oauth/authorize"
	EndpointToken     = "/oauth/token"
	// EndpointTokenAlias keeps the short path some deployed clients use.
	EndpointTokenAlias = "/token"
	EndpointUserInfo   = "/oauth/userinfo"
	EndpointClients    = "/clients"
)

// Supported grant types at the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)
