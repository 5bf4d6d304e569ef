// Package internal contains helper utilities that are private to authflow,
// mainly secure random generation for codes and challenge ids.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for the Redis backed code backend
//   - limiters: fixed-window issuance throttles
//   - stores: Redis records for issued codes
//   - config: service configuration loading (viper + godotenv)
//   - httpapi: fiber HTTP surface for the login flow
//
// # What this package must NOT do
//
//   - Export types that appear in the public authflow API.
//   - Be imported by any package outside the authflow module.
package internal
