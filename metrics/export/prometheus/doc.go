// Package prometheus renders authflow metrics in Prometheus text exposition
// format.
//
// Counter names are prefixed authflow_*_total; the step histograms are
// authflow_issue_latency_seconds and authflow_verify_latency_seconds.
// authflow_active_flows is a gauge of registered flows.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
