// Package storage defines interfaces for persisting OAuth clients,
// authorization codes, and refresh tokens. It supports swappable backend
// implementations; in-memory and Valkey backends are provided.
package storage
