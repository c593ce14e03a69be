package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// IndexRoute 与 ArtifactRoute 保持 pip 可直接使用的路径布局。
	IndexRoute    = "/pypi/web/simple/:package"
	ArtifactRoute = "/pypi/packages/*"
)

// MirrorHandler describes the component that serves index and artifact
// requests. It allows injecting fake handlers during tests.
type MirrorHandler interface {
	ServeIndex(fiber.Ctx) error
	ServeArtifact(fiber.Ctx) error
}

// RouteRegistrar 用于在 fallback 之前挂载额外路由（如 /-/ 诊断接口）。
type RouteRegistrar func(app *fiber.App)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	Mirror MirrorHandler
	Extra  []RouteRegistrar
}

const contextKeyRequestID = "_pypi_mirror_request_id"

// NewApp builds a Fiber application with request ID middleware, mirror routes
// and a JSON 404 fallback.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Mirror == nil {
		return nil, errors.New("mirror handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Get(IndexRoute, opts.Mirror.ServeIndex)
	app.Get(ArtifactRoute, opts.Mirror.ServeArtifact)

	for _, register := range opts.Extra {
		if register != nil {
			register(app)
		}
	}

	app.Use(func(c fiber.Ctx) error {
		return renderRouteNotFound(c, opts.Logger)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，写入 Locals 与响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderRouteNotFound(c fiber.Ctx, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action":     "route_lookup",
		"method":     c.Method(),
		"path":       c.Path(),
		"request_id": RequestID(c),
	}).Warn("route not found")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "route_not_found",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
