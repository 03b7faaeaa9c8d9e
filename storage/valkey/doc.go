// Package valkey provides a Valkey-backed implementation of all storage
// interfaces for multi-instance deployments.
//
// Records are stored as JSON values under prefixed keys. Authorization codes
// and refresh tokens carry a server-side TTL matching their expiry so that
// expired records are reclaimed by Valkey itself. The atomic take primitives
// are implemented with GETDEL, which guarantees that only one concurrent
// redemption of a code or refresh token can observe the record.
package valkey
