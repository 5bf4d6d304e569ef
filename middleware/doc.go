// Package middleware exposes guards that admit requests carrying a valid
// investor-portal grant issued by a succeeded login flow.
//
// # Guards
//
//   - [RequireGrant]: fiber handler used by the service.
//   - [Guard]: net/http adapter for embedding the portal check elsewhere.
//
// Both read the Authorization bearer token, call GrantParser.ParseGrant
// (normally *authflow.Engine), and store the claims for the next handler.
//
// # What this package must NOT do
//
//   - Create grants.
//   - Touch flow state or Redis.
package middleware
