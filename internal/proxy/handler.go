package proxy

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pypi-mirror/internal/artifact"
	"github.com/any-hub/pypi-mirror/internal/logging"
	"github.com/any-hub/pypi-mirror/internal/server"
)

const (
	routeIndex    = "index"
	routeArtifact = "artifact"

	artifactPrefix = "/pypi/packages/"

	headerCacheHit = "X-Pypi-Mirror-Cache-Hit"
)

// IndexFetcher 描述回源获取 simple 索引的能力，upstream.Client 满足该接口。
type IndexFetcher interface {
	FetchIndex(ctx context.Context, pkg string) (string, error)
}

// HandlerOptions 汇总 Handler 的依赖。
type HandlerOptions struct {
	Coordinator *Coordinator
	Index       IndexFetcher
	Rewriter    IndexRewriter
	MirrorBase  string
	Logger      *logrus.Logger
}

// Handler 对外暴露 Fiber handler：索引请求透传并改写，分发包请求交给 Coordinator。
type Handler struct {
	coordinator *Coordinator
	index       IndexFetcher
	rewriter    IndexRewriter
	mirrorBase  string
	logger      *logrus.Logger
}

// NewHandler constructs the mirror handler.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if opts.Index == nil {
		return nil, errors.New("index fetcher is required")
	}
	mirrorBase := strings.TrimRight(strings.TrimSpace(opts.MirrorBase), "/")
	if mirrorBase == "" {
		return nil, errors.New("mirror base url is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{
		coordinator: opts.Coordinator,
		index:       opts.Index,
		rewriter:    opts.Rewriter,
		mirrorBase:  mirrorBase,
		logger:      logger,
	}, nil
}

// ServeIndex 回源获取包索引、改写文件链接后返回，索引本身不缓存。
func (h *Handler) ServeIndex(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	pkg := strings.TrimSpace(c.Params("package"))
	if pkg == "" || strings.ContainsAny(pkg, "/\\") {
		h.logResult(routeIndex, pkg, requestID, fiber.StatusBadRequest, Result{}, 0, started, artifact.ErrMalformedKey)
		return writeError(c, fiber.StatusBadRequest, "malformed_key")
	}

	body, err := h.index.FetchIndex(requestContext(c), pkg)
	if err != nil {
		status, code := classifyError(err)
		h.logResult(routeIndex, pkg, requestID, status, Result{}, 0, started, err)
		return writeError(c, status, code)
	}

	rewritten := h.rewriter.Rewrite(body, h.mirrorBase)
	c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
	h.logResult(routeIndex, pkg, requestID, fiber.StatusOK, Result{}, int64(len(rewritten)), started, nil)
	return c.Status(fiber.StatusOK).SendString(rewritten)
}

// ServeArtifact 解析四段式 Key 后交由 Coordinator 完成命中或回源。
func (h *Handler) ServeArtifact(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	raw := rawArtifactKey(c)

	key, err := artifact.Parse(raw)
	if err != nil {
		h.logResult(routeArtifact, raw, requestID, fiber.StatusBadRequest, Result{}, 0, started, err)
		return writeError(c, fiber.StatusBadRequest, "malformed_key")
	}

	result, err := h.coordinator.Fetch(requestContext(c), key)
	if err != nil {
		status, code := classifyError(err)
		h.logResult(routeArtifact, key.String(), requestID, status, Result{}, 0, started, err)
		return writeError(c, status, code)
	}

	c.Set(fiber.HeaderContentType, inferArtifactContentType(key.Filename()))
	c.Set(headerCacheHit, strconv.FormatBool(result.CacheHit))
	h.logResult(routeArtifact, key.String(), requestID, fiber.StatusOK, result, int64(len(result.Body)), started, nil)
	return c.Status(fiber.StatusOK).Send(result.Body)
}

// rawArtifactKey 从未经规范化的原始路径中取出 Key，路由层合并 "//" 或
// 去掉末尾 "/" 后的通配参数不能反映客户端真实请求。
func rawArtifactKey(c fiber.Ctx) string {
	original := string(c.Request().URI().PathOriginal())
	rest, ok := strings.CutPrefix(original, artifactPrefix)
	if !ok {
		return c.Params("*")
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		return unescaped
	}
	return rest
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route string,
	key string,
	requestID string,
	status int,
	result Result,
	size int64,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(route, key, result.CacheHit)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["shared"] = result.Shared
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if size > 0 {
		for k, v := range logging.SizeFields(size) {
			fields[k] = v
		}
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if status >= fiber.StatusInternalServerError {
			h.logger.WithFields(fields).Error("proxy_failed")
			return
		}
		h.logger.WithFields(fields).Warn("proxy_rejected")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func inferArtifactContentType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "application/x-tar"
	case strings.HasSuffix(lower, ".tar.bz2"):
		return "application/x-bzip2"
	case strings.HasSuffix(lower, ".metadata"):
		return "text/plain; charset=utf-8"
	}
	if path.Ext(lower) == ".zip" {
		return "application/zip"
	}
	return "application/octet-stream"
}
