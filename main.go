package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pypi-mirror/internal/cache"
	"github.com/any-hub/pypi-mirror/internal/config"
	"github.com/any-hub/pypi-mirror/internal/logging"
	"github.com/any-hub/pypi-mirror/internal/metadata"
	"github.com/any-hub/pypi-mirror/internal/proxy"
	"github.com/any-hub/pypi-mirror/internal/server"
	"github.com/any-hub/pypi-mirror/internal/server/routes"
	"github.com/any-hub/pypi-mirror/internal/upstream"
	"github.com/any-hub/pypi-mirror/internal/version"
)

const (
	configEnv       = "PYPI_MIRROR_CONFIG"
	shutdownTimeout = 10 * time.Second
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		for k, v := range cfg.Summary() {
			fields[k] = v
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 元数据存储 → 正文存储 → 回源客户端 → Coordinator → Fiber server，
	// 所有请求共享同一组存储与 singleflight 实例。
	mirror, err := buildMirror(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化镜像服务失败: %v\n", err)
		return 1
	}
	defer mirror.close(logger)

	fields := logging.BaseFields("startup", opts.configPath)
	for k, v := range cfg.Summary() {
		fields[k] = v
	}
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(ctx, mirror.app, cfg.Global.ListenAddress(), logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// mirrorRuntime 持有需要在退出时释放的组件。
type mirrorRuntime struct {
	app   *fiber.App
	redis *metadata.RedisStore
}

func buildMirror(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*mirrorRuntime, error) {
	meta := metadata.NewRedisStore(metadata.RedisOptions{
		Addr:     cfg.Metadata.RedisAddr,
		Password: cfg.Metadata.RedisPassword,
		DB:       cfg.Metadata.RedisDB,
	})

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("初始化正文存储失败: %w", err)
	}

	client, err := upstream.NewClient(
		server.NewUpstreamClient(cfg),
		cfg.Upstream.UpstreamIndexURL,
		cfg.Upstream.UpstreamFilesURL,
	)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("构建回源客户端失败: %w", err)
	}

	coordinator, err := proxy.NewCoordinator(proxy.CoordinatorOptions{
		Metadata:       meta,
		Blobs:          blobs,
		Fetcher:        client,
		Logger:         logger,
		FetchTimeout:   cfg.Global.UpstreamTimeout.DurationValue(),
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
	})
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	handler, err := proxy.NewHandler(proxy.HandlerOptions{
		Coordinator: coordinator,
		Index:       client,
		Rewriter:    proxy.NewIndexRewriter(client.FilesBase()),
		MirrorBase:  cfg.Upstream.MirrorBaseURL,
		Logger:      logger,
	})
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	diagnostics := routes.Diagnostics{
		Metadata:    meta,
		BlobBackend: blobs.Backend(),
		Version:     version.Full(),
	}
	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Mirror: handler,
		Extra:  []server.RouteRegistrar{diagnostics.Register},
	})
	if err != nil {
		_ = meta.Close()
		return nil, err
	}

	return &mirrorRuntime{app: app, redis: meta}, nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.Storage.BlobBackend != config.BlobBackendS3 {
		return cache.NewStore(cfg.Storage.StoragePath)
	}
	return cache.NewS3Store(ctx, cache.S3Options{
		Bucket:          cfg.Storage.S3Bucket,
		Region:          cfg.Storage.S3Region,
		Endpoint:        cfg.Storage.S3Endpoint,
		AccessKeyID:     cfg.Storage.S3AccessKeyID,
		SecretAccessKey: cfg.Storage.S3SecretAccessKey,
		Prefix:          cfg.Storage.S3Prefix,
		CreateBucket:    cfg.Storage.S3CreateBucket,
	})
}

func (m *mirrorRuntime) close(logger *logrus.Logger) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Close(); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("关闭 Redis 连接失败")
	}
}

// serve 启动监听，ctx 结束（SIGINT/SIGTERM）后在 shutdownTimeout 内优雅退出。
func serve(ctx context.Context, app *fiber.App, addr string, logger *logrus.Logger) error {
	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号，开始关闭 Fiber 服务")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.WithError(err).WithField("action", "shutdown").Warn("Fiber 服务关闭超时")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   addr,
	}).Info("Fiber 服务启动")

	err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("pypi-mirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PYPI_MIRROR_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
