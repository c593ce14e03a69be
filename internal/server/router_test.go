package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterDispatchesIndexRoute(t *testing.T) {
	app, recorder := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/pypi/web/simple/requests", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if recorder.index != "requests" {
		t.Fatalf("expected package param requests, got %q", recorder.index)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterDispatchesArtifactRoute(t *testing.T) {
	app, recorder := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/pypi/packages/ab/cd/ef/demo-1.0.tar.gz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if recorder.artifact != "ab/cd/ef/demo-1.0.tar.gz" {
		t.Fatalf("unexpected wildcard param %q", recorder.artifact)
	}
	if recorder.requestID == "" || recorder.requestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("handler should observe the same request id as the response header")
	}
}

func TestRouterReturns404WhenRouteUnknown(t *testing.T) {
	app, recorder := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/simple/requests/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"route_not_found"`)) {
		t.Fatalf("expected route_not_found error, got %s", string(body))
	}
	if recorder.index != "" || recorder.artifact != "" {
		t.Fatalf("mirror handler should not be invoked")
	}
}

func TestRouterMountsExtraRoutesBeforeFallback(t *testing.T) {
	recorder := &mirrorRecorder{}
	app, err := NewApp(AppOptions{
		Logger: newDiscardLogger(),
		Mirror: recorder,
		Extra: []RouteRegistrar{func(app *fiber.App) {
			app.Get("/-/ping", func(c fiber.Ctx) error {
				return c.SendString("pong")
			})
		}},
	})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 status, got %d", resp.StatusCode)
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	app, err := NewApp(AppOptions{
		Logger: newDiscardLogger(),
		Mirror: &mirrorRecorder{panicOnArtifact: true},
	})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/pypi/packages/a/b/c/d.whl", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{Mirror: &mirrorRecorder{}}); err == nil {
		t.Fatalf("expected error without logger")
	}
	if _, err := NewApp(AppOptions{Logger: newDiscardLogger()}); err == nil {
		t.Fatalf("expected error without mirror handler")
	}
}

type mirrorRecorder struct {
	index           string
	artifact        string
	requestID       string
	panicOnArtifact bool
}

func (m *mirrorRecorder) ServeIndex(c fiber.Ctx) error {
	m.index = c.Params("package")
	m.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (m *mirrorRecorder) ServeArtifact(c fiber.Ctx) error {
	if m.panicOnArtifact {
		panic("boom")
	}
	m.artifact = c.Params("*")
	m.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func newTestApp(t *testing.T) (*fiber.App, *mirrorRecorder) {
	t.Helper()

	recorder := &mirrorRecorder{}
	app, err := NewApp(AppOptions{
		Logger: newDiscardLogger(),
		Mirror: recorder,
	})
	if err != nil {
		t.Fatalf("NewApp error: %v", err)
	}
	return app, recorder
}

func newDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
