// Package delivery sends one-time codes to a phone number.
//
// [Sender] is the only contract the login flow depends on. [LogSender] writes
// the destination to a zap logger and is meant for local development.
// [TwilioSender] posts to the Twilio Messages API. [BreakerSender] wraps any
// Sender with a circuit breaker so a failing SMS provider fails fast.
package delivery
