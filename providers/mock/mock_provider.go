// Package mock provides a mock identity provider for testing.
package mock

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/giantswarm/mcp-authd/providers"
)

// Provider is a mock identity provider with a settable current user.
// The zero value has no session; use SetUser to sign a principal in.
type Provider struct {
	mu       sync.RWMutex
	user     *providers.UserInfo
	users    map[string]*providers.UserInfo
	loginURL string
}

var _ providers.Identity = (*Provider)(nil)

// New creates a mock provider with no authenticated session.
func New() *Provider {
	return &Provider{
		users:    make(map[string]*providers.UserInfo),
		loginURL: "/auth/login",
	}
}

// SetUser sets the authenticated principal returned by CurrentUser and
// registers it for Lookup.
func (p *Provider) SetUser(user *providers.UserInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
	if user != nil {
		p.users[user.ID] = user
	}
}

// ClearSession removes the authenticated principal so CurrentUser returns
// ErrNoSession again. Known users remain resolvable via Lookup.
func (p *Provider) ClearSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = nil
}

// CurrentUser returns the configured principal or ErrNoSession.
func (p *Provider) CurrentUser(_ context.Context, _ *http.Request) (*providers.UserInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.user == nil {
		return nil, providers.ErrNoSession
	}
	u := *p.user
	return &u, nil
}

// Lookup resolves a previously seen principal by ID.
func (p *Provider) Lookup(_ context.Context, userID string) (*providers.UserInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if u, ok := p.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, providers.ErrNoSession
}

// LoginURL returns the mock login path with the original parameters attached.
func (p *Provider) LoginURL(params url.Values) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(params) == 0 {
		return p.loginURL
	}
	return p.loginURL + "?" + params.Encode()
}
