// Package security provides ambient security features for the authorization
// server: response header management, per-IP rate limiting, audit logging
// with PII protection, and client IP extraction behind proxies.
package security
