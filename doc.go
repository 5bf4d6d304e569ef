// Package authflow implements the investor login flow: collect name, phone
// and email, issue a one-time code, verify it, and hand a completion to the
// caller after a short acknowledgement.
//
// Each flow is a [Controller] obtained from [Engine.Start]. A controller is a
// three-state machine (collecting, verifying, succeeded) that runs at most one
// backend step at a time; every blocking call takes a context and is cancelled
// when the flow is closed.
//
// # Backends
//
// The [Backend] interface issues and verifies codes. [SimulatedBackend]
// reproduces fixed delays and accepts any well-formed code. [RedisBackend]
// stores hashed codes in Redis with a TTL and attempt counter, throttles
// issuance per phone and per IP, and delivers through a delivery.Sender.
//
// # Architecture boundaries
//
// authflow is the public surface: [Engine], [Builder], [Config] and value
// types. Stores, limiters, the OTP orchestration and audit dispatch live under
// internal/ and are never exported. Sub-packages (delivery, jwt, middleware,
// auditsink, metrics/export) never import this package back, except the
// exporters which read an engine through a narrow interface.
package authflow
