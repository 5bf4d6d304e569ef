// Package httpapi exposes login flows over HTTP with fiber.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/frog8/authflow"
	"github.com/frog8/authflow/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

// Options configures New. Engine is required.
type Options struct {
	Engine *authflow.Engine
	Logger *zap.Logger

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler

	CORSOrigins []string

	// RateLimiter throttles /api per client IP when non-nil.
	RateLimiter *IPRateLimiter

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New builds the fiber application with middleware and routes.
func New(opts Options) (*fiber.App, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "authflow",
		DisableStartupMessage: true,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		ErrorHandler:          errorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(opts.CORSOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(requestLogger(logger))

	h := &Handler{engine: opts.Engine, logger: logger}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	api := app.Group("/api")
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Handler())
	}

	flows := api.Group("/flows")
	flows.Post("", h.StartFlow)
	flows.Get("/:id", h.GetFlow)
	flows.Post("/:id/credentials", h.SubmitCredentials)
	flows.Post("/:id/code", h.SubmitCode)
	flows.Post("/:id/resend", h.ResendCode)
	flows.Post("/:id/back", h.GoBack)
	flows.Delete("/:id", h.AbandonFlow)

	api.Get("/portal/me", middleware.RequireGrant(opts.Engine), h.PortalMe)

	return app, nil
}

func corsOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	return strings.Join(origins, ", ")
}

// errorHandler renders fiber errors and anything a handler failed to map.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		} else {
			logger.Error("unhandled request error", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}

// requestLogger logs each request through zap.
func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			logger.Debug("http request failed", append(fields, zap.Error(err))...)
			return err
		}
		logger.Debug("http request", fields...)
		return nil
	}
}
