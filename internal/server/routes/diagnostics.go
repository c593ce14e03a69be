package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/pypi-mirror/internal/artifact"
	"github.com/any-hub/pypi-mirror/internal/metadata"
)

const pingTimeout = 2 * time.Second

// Diagnostics 汇总诊断接口依赖的组件。
type Diagnostics struct {
	Metadata    metadata.Store
	BlobBackend string
	Version     string
}

type healthPayload struct {
	Status      string `json:"status"`
	Metadata    string `json:"metadata"`
	BlobBackend string `json:"blob_backend"`
	Version     string `json:"version,omitempty"`
	Error       string `json:"error,omitempty"`
}

type cacheEntryPayload struct {
	Key   string `json:"key"`
	Valid bool   `json:"valid"`
	Path  string `json:"path"`
}

// Register 暴露 /-/healthz 与 /-/cache/* 诊断接口，供运维确认元数据存储连通性与缓存记录。
func (d Diagnostics) Register(app *fiber.App) {
	if app == nil || d.Metadata == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		payload := healthPayload{
			Status:      "ok",
			Metadata:    "ok",
			BlobBackend: d.BlobBackend,
			Version:     d.Version,
		}
		pinger, ok := d.Metadata.(metadata.Pinger)
		if !ok {
			payload.Metadata = "unknown"
			return c.JSON(payload)
		}
		ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			payload.Status = "degraded"
			payload.Metadata = "unavailable"
			payload.Error = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(payload)
		}
		return c.JSON(payload)
	})

	app.Get("/-/cache/*", func(c fiber.Ctx) error {
		key, err := artifact.Parse(c.Params("*"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_key"})
		}
		entry, ok, err := d.Metadata.Get(c.Context(), key.String())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_unavailable"})
		}
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_entry_not_found"})
		}
		return c.JSON(cacheEntryPayload{
			Key:   key.String(),
			Valid: entry.Valid,
			Path:  entry.Path,
		})
	})
}
