// Package flows contains pure-function orchestrators for the Redis backed
// code backend.
//
// RunIssueOTP and RunVerifyOTP accept a typed dependency struct and return
// results without side-effects beyond those dependencies. The root package
// wires the store, limiter, sender, metrics and audit hooks in.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the OTP store, issuance limiter,
// delivery sender, audit dispatcher, and metrics. They do NOT own any of
// these resources.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authflow (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
package flows
