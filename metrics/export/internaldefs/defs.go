package internaldefs

import (
	"github.com/frog8/authflow"
)

type CounterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authflow.MetricFlowStarted, Name: "authflow_flow_started_total", Help: "Login flows started."},
	{ID: authflow.MetricCredentialsRejected, Name: "authflow_credentials_rejected_total", Help: "Credential submissions rejected by validation."},
	{ID: authflow.MetricCodeIssued, Name: "authflow_code_issued_total", Help: "Successful code issuances (first send)."},
	{ID: authflow.MetricCodeIssueFailed, Name: "authflow_code_issue_failed_total", Help: "Failed code issuances, send or resend."},
	{ID: authflow.MetricCodeResent, Name: "authflow_code_resent_total", Help: "Successful code resends."},
	{ID: authflow.MetricCodeRejected, Name: "authflow_code_rejected_total", Help: "Code submissions rejected by validation or backend."},
	{ID: authflow.MetricCodeVerified, Name: "authflow_code_verified_total", Help: "Codes accepted by the backend."},
	{ID: authflow.MetricFlowBack, Name: "authflow_flow_back_total", Help: "Back navigations from verification to credential entry."},
	{ID: authflow.MetricFlowCompleted, Name: "authflow_flow_completed_total", Help: "Completion notifications delivered."},
	{ID: authflow.MetricFlowAbandoned, Name: "authflow_flow_abandoned_total", Help: "Flows torn down before completion."},
	{ID: authflow.MetricBusyRejected, Name: "authflow_busy_rejected_total", Help: "Operations rejected while a step was pending."},
	{ID: authflow.MetricStepTimeout, Name: "authflow_step_timeout_total", Help: "Backend steps that exceeded the step timeout."},
	{ID: authflow.MetricRateLimitHit, Name: "authflow_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: authflow.MetricOTPIssued, Name: "authflow_otp_issued_total", Help: "Codes stored and delivered by the Redis backend."},
	{ID: authflow.MetricOTPIssueFailed, Name: "authflow_otp_issue_failed_total", Help: "Redis backend issuance failures."},
	{ID: authflow.MetricOTPVerified, Name: "authflow_otp_verified_total", Help: "Codes consumed by the Redis backend."},
	{ID: authflow.MetricOTPRejected, Name: "authflow_otp_rejected_total", Help: "Codes rejected by the Redis backend."},
	{ID: authflow.MetricOTPAttemptsExceeded, Name: "authflow_otp_attempts_exceeded_total", Help: "Challenges invalidated due to attempt cap."},
	{ID: authflow.MetricOTPRateLimited, Name: "authflow_otp_rate_limited_total", Help: "Issuances denied by the phone or IP throttle."},
	{ID: authflow.MetricGrantIssued, Name: "authflow_grant_issued_total", Help: "Portal grants minted."},
}

var HistogramDefs = []HistogramDef{
	{ID: authflow.MetricIssueLatency, Name: "authflow_issue_latency_seconds", Help: "Code issuance step latency."},
	{ID: authflow.MetricVerifyLatency, Name: "authflow_verify_latency_seconds", Help: "Code verification step latency."},
}

// HistogramBounds mirrors authflow bucket boundaries, in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is the instrument-name form of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2",
	"5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
