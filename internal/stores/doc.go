// Package stores provides the Redis record store for issued one-time codes.
//
// # Design
//
// Each issued code is a versioned, binary-encoded record with a TTL. Consume
// runs a single Lua script (GET, expiry check, compare, DEL or attempts++),
// so concurrent verifications of the same challenge cannot both succeed.
// Records are single-use and enforce an attempt limit. The final secret
// comparison happens in Go with a constant-time compare.
//
// # Architecture boundaries
//
// This package owns persistence for transient code records. It does NOT
// generate codes, enforce issuance throttles, or deliver messages; those
// belong to internal/flows.
//
// # What this package must NOT do
//
//   - Import authflow or any sibling internal package.
//   - Log or expose plaintext codes.
//   - Use non-constant-time comparisons for secret matching.
package stores
