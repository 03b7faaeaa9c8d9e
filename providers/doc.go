// Package providers defines the identity-provider collaborator that
// authenticates the human principal before authorization codes are issued.
// The authorization server never authenticates users itself; it defers to a
// provider implementation (Cognito, an OIDC IdP, a session layer, ...) and
// only consumes the resulting principal.
package providers
