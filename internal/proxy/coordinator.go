package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/pypi-mirror/internal/artifact"
	"github.com/any-hub/pypi-mirror/internal/cache"
	"github.com/any-hub/pypi-mirror/internal/logging"
	"github.com/any-hub/pypi-mirror/internal/metadata"
	"github.com/any-hub/pypi-mirror/internal/upstream"
)

// ArtifactFetcher 描述回源获取分发包正文的能力，upstream.Client 满足该接口。
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, key artifact.Key) ([]byte, error)
}

// CoordinatorOptions 汇总 Coordinator 的依赖与回源参数。
type CoordinatorOptions struct {
	Metadata metadata.Store
	Blobs    cache.Store
	Fetcher  ArtifactFetcher
	Logger   *logrus.Logger

	// FetchTimeout 限制单次回源耗时，0 表示仅依赖 http.Client 自身的超时。
	FetchTimeout time.Duration
	// MaxRetries 仅对 upstream.ErrUnavailable 生效，0 表示不重试。
	MaxRetries     int
	InitialBackoff time.Duration
}

// Coordinator 负责 orchestrate “查元数据 → 命中读正文 → 未命中回源、写正文、记元数据”
// 的全流程。同一 Key 的并发未命中通过 singleflight 合并为一次回源与一次写入。
type Coordinator struct {
	meta    metadata.Store
	blobs   cache.Store
	fetcher ArtifactFetcher
	logger  *logrus.Logger

	fetchTimeout   time.Duration
	maxRetries     int
	initialBackoff time.Duration

	group singleflight.Group
}

// Result 是一次分发包请求的结果。Body 在多个等待者之间共享，调用方不得修改。
type Result struct {
	Body     []byte
	CacheHit bool
	Shared   bool
}

type flightResult struct {
	body     []byte
	cacheHit bool
}

// NewCoordinator 校验依赖并构建 Coordinator。
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("artifact fetcher is required")
	}
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("invalid max retries: %d", opts.MaxRetries)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	return &Coordinator{
		meta:           opts.Metadata,
		blobs:          opts.Blobs,
		fetcher:        opts.Fetcher,
		logger:         logger,
		fetchTimeout:   opts.FetchTimeout,
		maxRetries:     opts.MaxRetries,
		initialBackoff: initial,
	}, nil
}

// Fetch 返回 key 对应的完整正文。命中时直接读 Blob Store；未命中时加入（或发起）
// 该 key 的回源 flight。调用方 ctx 取消只影响自身等待，flight 会继续完成并写入缓存。
func (c *Coordinator) Fetch(ctx context.Context, key artifact.Key) (Result, error) {
	if key.IsZero() {
		return Result{}, artifact.ErrMalformedKey
	}

	body, hit, err := c.lookup(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if hit {
		return Result{Body: body, CacheHit: true}, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		return c.resolveMiss(flightCtx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		flight := res.Val.(*flightResult)
		return Result{Body: flight.body, CacheHit: flight.cacheHit, Shared: res.Shared}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// lookup 执行 LOOKUP 与 HIT 判定。元数据存储失败返回 ErrCacheUnavailable；
// 记录无效、缺正文或正文为空均视为未命中。
func (c *Coordinator) lookup(ctx context.Context, key artifact.Key) ([]byte, bool, error) {
	entry, ok, err := c.meta.Get(ctx, key.String())
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	if !ok || !entry.Valid || entry.Path == "" {
		return nil, false, nil
	}

	body, err := c.blobs.Read(ctx, entry.Path)
	switch {
	case err == nil:
		return body, true, nil
	case errors.Is(err, cache.ErrNotFound):
		c.logger.WithFields(logrus.Fields{
			"action": "cache_lookup",
			"key":    key.String(),
			"path":   entry.Path,
		}).Warn("cache_record_dangling")
	default:
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "cache_lookup",
			"key":     key.String(),
			"path":    entry.Path,
			"backend": c.blobs.Backend(),
		}).Warn("cache_read_failed")
	}
	return nil, false, nil
}

// resolveMiss 在 flight 内执行 FETCH → STORE → RECORD。
func (c *Coordinator) resolveMiss(ctx context.Context, key artifact.Key) (*flightResult, error) {
	// 上一个 flight 可能在本请求 LOOKUP 之后才完成。
	body, hit, err := c.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if hit {
		return &flightResult{body: body, cacheHit: true}, nil
	}

	started := time.Now()
	body, err = c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	if _, err := c.blobs.Write(ctx, key.String(), bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	entry := metadata.Entry{Valid: true, Path: key.String()}
	if err := c.meta.Set(ctx, key.String(), entry); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "cache_record",
			"key":    key.String(),
		}).Warn("cache_record_failed")
	}

	fields := logging.SizeFields(int64(len(body)))
	fields["action"] = "cache_populate"
	fields["key"] = key.String()
	fields["backend"] = c.blobs.Backend()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	c.logger.WithFields(fields).Info("cache_populated")

	return &flightResult{body: body}, nil
}

// fetch 调用回源客户端；配置了 MaxRetries 时对 ErrUnavailable 做指数退避重试。
func (c *Coordinator) fetch(ctx context.Context, key artifact.Key) ([]byte, error) {
	if c.maxRetries == 0 {
		return c.fetchOnce(ctx, key)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx)

	var body []byte
	operation := func() error {
		var err error
		body, err = c.fetchOnce(ctx, key)
		if err != nil && !errors.Is(err, upstream.ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "upstream_retry",
			"key":     key.String(),
			"wait_ms": wait.Milliseconds(),
		}).Warn("upstream_fetch_retry")
	}
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Coordinator) fetchOnce(ctx context.Context, key artifact.Key) ([]byte, error) {
	if c.fetchTimeout <= 0 {
		return c.fetcher.FetchArtifact(ctx, key)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	return c.fetcher.FetchArtifact(fetchCtx, key)
}
