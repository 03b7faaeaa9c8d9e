// Package authd implements an OAuth 2.1 authorization server with dynamic
// client registration, designed to front MCP-style resource servers.
//
// The package exposes an http.Handler surface over the engine in the server
// package: client registration (RFC 7591), the authorization code flow with
// mandatory PKCE, the client credentials grant, refresh token rotation, a
// userinfo endpoint, and client management. Storage backends, token
// issuance, identity resolution, and security middleware live in their own
// packages.
package authd
