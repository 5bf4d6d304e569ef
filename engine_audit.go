package authflow

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventFlowStarted         = "flow_started"
	auditEventCredentialsRejected = "credentials_rejected"
	auditEventCodeIssued          = "code_issued"
	auditEventCodeIssueFailed     = "code_issue_failed"
	auditEventCodeResent          = "code_resent"
	auditEventCodeRejected        = "code_rejected"
	auditEventCodeVerified        = "code_verified"
	auditEventFlowBack            = "flow_back"
	auditEventFlowCompleted       = "flow_completed"
	auditEventFlowAbandoned       = "flow_abandoned"
	auditEventBusyRejected        = "busy_rejected"
	auditEventRateLimitTriggered  = "rate_limit_triggered"
	auditEventOTPIssued           = "otp_issued"
	auditEventOTPRejected         = "otp_rejected"
	auditEventOTPVerified         = "otp_verified"
)

// AuditErrorCode is the stable error string recorded in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrValidation       AuditErrorCode = "validation_failed"
	auditErrBusy             AuditErrorCode = "busy"
	auditErrClosed           AuditErrorCode = "flow_closed"
	auditErrTransition       AuditErrorCode = "invalid_transition"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrTimeout          AuditErrorCode = "timeout"
	auditErrCodeMismatch     AuditErrorCode = "code_mismatch"
	auditErrCodeExpired      AuditErrorCode = "code_expired"
	auditErrAttemptsExceeded AuditErrorCode = "attempts_exceeded"
	auditErrCanceled         AuditErrorCode = "canceled"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	flowID string,
	state string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		FlowID:    flowID,
		State:     state,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	if e == nil || e.audit == nil {
		return
	}
	base := map[string]string{"scope": scope}
	if metadataBuilder != nil {
		for k, v := range metadataBuilder() {
			base[k] = v
		}
	}
	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: auditEventRateLimitTriggered,
		FlowID:    flowIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Metadata:  base,
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrBusy):
		return auditErrBusy
	case errors.Is(err, ErrFlowClosed):
		return auditErrClosed
	case errors.Is(err, ErrInvalidTransition):
		return auditErrTransition
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTimeout):
		return auditErrTimeout
	case errors.Is(err, ErrCodeMismatch):
		return auditErrCodeMismatch
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	case errors.Is(err, ErrServiceUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
