package authflow

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError through errors.Is.
	ErrValidation = errors.New("validation failed")
	// ErrBusy is returned when an operation is attempted while a previous async step is still outstanding.
	ErrBusy = errors.New("flow busy")
	// ErrFlowClosed is returned by every operation once the flow succeeded or was torn down.
	ErrFlowClosed = errors.New("flow closed")
	// ErrInvalidTransition is returned when an operation is not permitted in the current state.
	ErrInvalidTransition = errors.New("invalid flow transition")
	// ErrFlowNotFound is returned by engine lookups for unknown or reaped flows.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrServiceUnavailable is returned when the code backend or delivery channel fails.
	ErrServiceUnavailable = errors.New("verification service unavailable")
	// ErrTimeout is returned when a backend step exceeds Flow.StepTimeout.
	ErrTimeout = errors.New("verification step timed out")
	// ErrRateLimited is returned when code issuance is throttled.
	ErrRateLimited = errors.New("code issuance rate limited")
	// ErrCodeMismatch is returned when a well-formed code does not match the issued one.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrCodeExpired is returned when the issued code no longer exists.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrAttemptsExceeded is returned when the issued code was invalidated after too many failures.
	ErrAttemptsExceeded = errors.New("verification attempts exceeded")
	// ErrEngineNotReady is returned when the engine was not built through Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrGrantInvalid is returned when a portal grant token fails verification.
	ErrGrantInvalid = errors.New("invalid grant token")
)

// Field names reported in ValidationError.Fields.
const (
	FieldName         = "name"
	FieldPhone        = "phone"
	FieldEmail        = "email"
	FieldReferralCode = "referralCode"
	FieldCode         = "code"
)

// ValidationError reports field-level input problems. It never changes flow state.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ErrValidation.Error())
	b.WriteString(": ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

// Is makes errors.Is(err, ErrValidation) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Field returns the message for one field, or "" if that field is valid.
func (e *ValidationError) Field(name string) string {
	if e == nil {
		return ""
	}
	return e.Fields[name]
}

// FieldErrors extracts the per-field messages from err, or nil when err is not a validation failure.
func FieldErrors(err error) map[string]string {
	var ve *ValidationError
	if !errors.As(err, &ve) || ve == nil {
		return nil
	}
	out := make(map[string]string, len(ve.Fields))
	for k, v := range ve.Fields {
		out[k] = v
	}
	return out
}
