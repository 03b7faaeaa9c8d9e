// Package token signs and verifies the self-contained bearer tokens issued
// by the authorization server. Tokens are HS256 JWTs carrying the client,
// optional user, and granted scope; there is no revocation list, so a token
// remains valid for its full lifetime even if the client or user is deleted.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Verify for any token that fails signature,
// structure, or expiry checks. The underlying cause is wrapped for logging
// but callers should not expose it.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the claim set embedded in issued access tokens.
type Claims struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens with a process-wide symmetric
// secret.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates a token issuer. The signing secret is required: there is
// deliberately no fallback default, so a missing secret is a fatal
// configuration error rather than a silent downgrade.
func NewIssuer(secret []byte, issuerURL string) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	return &Issuer{
		secret: secret,
		issuer: issuerURL,
		now:    time.Now,
	}, nil
}

// Sign produces a signed token embedding the supplied claims with
// exp = now + ttl.
func (i *Issuer) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := i.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    i.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims. It fails on
// signature mismatch, malformed tokens, unexpected signing algorithms, and
// expired tokens.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
