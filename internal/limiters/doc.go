// Package limiters provides the Redis fixed-window throttle for code issuance.
//
// [OTPIssueLimiter] counts issuances per phone ("<prefix>i:<phone>") and per
// client IP ("<prefix>ip:<ip>"). A nil limiter allows everything.
//
// # What this package must NOT do
//
//   - Import authflow or any sibling internal package.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters
