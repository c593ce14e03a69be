package proxy

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/pypi-mirror/internal/artifact"
	"github.com/any-hub/pypi-mirror/internal/upstream"
)

var (
	// ErrCacheUnavailable 表示 LOOKUP 阶段元数据存储不可达，请求在回源前失败。
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrStorageFailure 表示 STORE 阶段正文无法持久化，响应不能宣称成功。
	ErrStorageFailure = errors.New("storage failure")
)

// classifyError 将失败映射为 HTTP 状态码与稳定错误码。
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, artifact.ErrMalformedKey):
		return fiber.StatusBadRequest, "malformed_key"
	case errors.Is(err, ErrCacheUnavailable):
		return fiber.StatusServiceUnavailable, "cache_unavailable"
	case errors.Is(err, ErrStorageFailure):
		return fiber.StatusInternalServerError, "storage_failure"
	case errors.Is(err, upstream.ErrUnavailable),
		errors.Is(err, upstream.ErrNotFound),
		errors.Is(err, upstream.ErrProtocol):
		return fiber.StatusBadGateway, upstream.Code(err)
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, context.Canceled):
		return fiber.StatusServiceUnavailable, "request_canceled"
	default:
		return fiber.StatusInternalServerError, "internal_error"
	}
}
