package httpapi

import (
	"context"
	"net"

	"github.com/frog8/authflow"
	"github.com/frog8/authflow/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler maps HTTP requests onto engine flows.
type Handler struct {
	engine *authflow.Engine
	logger *zap.Logger
}

type credentialsRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	ReferralCode string `json:"referralCode"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) StartFlow(c *fiber.Ctx) error {
	ctl, err := h.engine.Start(h.requestContext(c), h.completed)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.Status(fiber.StatusCreated).JSON(ctl.Snapshot())
}

func (h *Handler) GetFlow(c *fiber.Ctx) error {
	ctl, err := h.engine.Lookup(c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(ctl.Snapshot())
}

func (h *Handler) SubmitCredentials(c *fiber.Ctx) error {
	ctl, err := h.engine.Lookup(c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}

	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	err = ctl.SubmitCredentials(h.requestContext(c), authflow.Credentials{
		Name:         req.Name,
		Phone:        req.Phone,
		Email:        req.Email,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		return writeError(c, err, ctl)
	}
	return c.JSON(ctl.Snapshot())
}

func (h *Handler) SubmitCode(c *fiber.Ctx) error {
	ctl, err := h.engine.Lookup(c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}

	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	if err := ctl.SubmitCode(h.requestContext(c), req.Code); err != nil {
		return writeError(c, err, ctl)
	}
	return c.JSON(ctl.Snapshot())
}

func (h *Handler) ResendCode(c *fiber.Ctx) error {
	ctl, err := h.engine.Lookup(c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}
	if err := ctl.ResendCode(h.requestContext(c)); err != nil {
		return writeError(c, err, ctl)
	}
	return c.JSON(ctl.Snapshot())
}

func (h *Handler) GoBack(c *fiber.Ctx) error {
	ctl, err := h.engine.Lookup(c.Params("id"))
	if err != nil {
		return writeError(c, err, nil)
	}
	if err := ctl.GoBack(); err != nil {
		return writeError(c, err, ctl)
	}
	return c.JSON(ctl.Snapshot())
}

func (h *Handler) AbandonFlow(c *fiber.Ctx) error {
	if err := h.engine.Abandon(c.Params("id")); err != nil {
		return writeError(c, err, nil)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PortalMe echoes the grant the investor portal was opened with.
func (h *Handler) PortalMe(c *fiber.Ctx) error {
	claims, ok := middleware.GrantFromFiber(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	return c.JSON(fiber.Map{
		"flow_id":     claims.Subject,
		"name":        claims.Name,
		"destination": claims.Destination,
		"expires_at":  claims.ExpiresAt,
	})
}

func (h *Handler) completed(done authflow.Completion) {
	h.logger.Info("login flow completed",
		zap.String("flow_id", done.FlowID),
		zap.String("destination", authflow.MaskPhone(done.Phone)),
	)
}

// requestContext carries the client IP so the backend can throttle per address.
func (h *Handler) requestContext(c *fiber.Ctx) context.Context {
	return authflow.WithClientIP(c.UserContext(), clientIP(c))
}

func clientIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
