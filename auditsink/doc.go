// Package auditsink ships authflow audit events to durable stores.
//
// [KafkaSink] publishes one JSON message per event, keyed by flow id so a
// flow's events stay ordered within a partition. [MongoSink] inserts one
// document per event. Both implement authflow.AuditSink and io.Closer, so
// Engine.Close flushes and releases them.
//
// Sinks run on the audit dispatcher goroutine. A failed write is logged and
// counted; it never reaches the flow that produced the event.
package auditsink
