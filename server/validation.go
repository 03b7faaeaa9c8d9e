package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/giantswarm/mcp-authd/storage"
)

// RFC 7636 code verifier length bounds.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// validatePKCE checks a code verifier against the S256 challenge stored with
// the authorization code. Only the S256 method is accepted.
func validatePKCE(challenge, method, verifier string) error {
	if method != "S256" {
		return invalidGrant("unsupported code challenge method")
	}
	if challenge == "" || verifier == "" {
		return invalidGrant("PKCE verification failed")
	}
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return invalidGrant("PKCE verification failed")
	}
	if !isValidVerifierCharset(verifier) {
		return invalidGrant("PKCE verification failed")
	}

	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return invalidGrant("PKCE verification failed")
	}
	return nil
}

// isValidVerifierCharset reports whether the verifier uses only the
// unreserved characters RFC 7636 permits.
func isValidVerifierCharset(verifier string) bool {
	for _, c := range verifier {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}

// isRegisteredRedirectURI reports whether uri exactly matches one of the
// client's registered redirect URIs. Matching is strict string equality;
// no wildcard or prefix matching.
func isRegisteredRedirectURI(client *storage.Client, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// clientAllowsGrant reports whether the client registered the given grant
// type.
func clientAllowsGrant(client *storage.Client, grant string) bool {
	for _, g := range client.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}
