// Package jwt mints and verifies the short-lived investor-portal grant issued
// when a login flow succeeds.
package jwt
