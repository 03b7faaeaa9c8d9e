// Package server implements the OAuth 2.1 authorization engine: dynamic
// client registration, the authorization code flow with mandatory PKCE,
// the client credentials grant, refresh token rotation, and userinfo
// resolution. The engine is transport-agnostic; the HTTP surface lives in
// the root package.
package server
