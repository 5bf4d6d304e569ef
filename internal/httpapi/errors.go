package httpapi

import (
	"errors"

	"github.com/frog8/authflow"
	"github.com/gofiber/fiber/v2"
)

type errorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message,omitempty"`
	Fields  map[string]string  `json:"fields,omitempty"`
	Flow    *authflow.Snapshot `json:"flow,omitempty"`
}

// statusFor maps engine errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, authflow.ErrValidation):
		return fiber.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, authflow.ErrFlowNotFound):
		return fiber.StatusNotFound, "flow_not_found"
	case errors.Is(err, authflow.ErrBusy):
		return fiber.StatusConflict, "flow_busy"
	case errors.Is(err, authflow.ErrInvalidTransition):
		return fiber.StatusConflict, "invalid_transition"
	case errors.Is(err, authflow.ErrFlowClosed):
		return fiber.StatusGone, "flow_closed"
	case errors.Is(err, authflow.ErrRateLimited):
		return fiber.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, authflow.ErrCodeMismatch),
		errors.Is(err, authflow.ErrCodeExpired),
		errors.Is(err, authflow.ErrAttemptsExceeded):
		return fiber.StatusUnauthorized, "code_rejected"
	case errors.Is(err, authflow.ErrTimeout):
		return fiber.StatusServiceUnavailable, "timeout"
	case errors.Is(err, authflow.ErrServiceUnavailable),
		errors.Is(err, authflow.ErrEngineNotReady):
		return fiber.StatusServiceUnavailable, "service_unavailable"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}

// writeError renders err, attaching the flow snapshot so clients can show
// the banner and field errors.
func writeError(c *fiber.Ctx, err error, ctl *authflow.Controller) error {
	status, code := statusFor(err)
	resp := errorResponse{Error: code}

	if fields := authflow.FieldErrors(err); fields != nil {
		resp.Fields = fields
	} else if status != fiber.StatusInternalServerError {
		resp.Message = err.Error()
	}
	if ctl != nil {
		snap := ctl.Snapshot()
		resp.Flow = &snap
	}
	return c.Status(status).JSON(resp)
}
