package main

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/pypi-mirror/internal/config"
	"github.com/any-hub/pypi-mirror/internal/logging"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("PYPI_MIRROR_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefaultsToConfigToml(t *testing.T) {
	t.Setenv("PYPI_MIRROR_CONFIG", "")

	opts, err := parseCLIFlags([]string{"--check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.checkOnly {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseCLIFlagsRejectsUnknownFlag(t *testing.T) {
	if _, err := parseCLIFlags([]string{"--bogus"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "pypi-mirror") {
		t.Fatalf("version 输出应包含 pypi-mirror 标识")
	}
}

func TestBuildMirrorWiresRoutes(t *testing.T) {
	cfg, err := config.Load(configFixture(t, "valid.toml"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	cfg.Storage.StoragePath = filepath.Join(t.TempDir(), "cache")

	mirror, err := buildMirror(context.Background(), cfg, logging.NewDiscardLogger())
	if err != nil {
		t.Fatalf("buildMirror error: %v", err)
	}
	t.Cleanup(func() { mirror.close(logging.NewDiscardLogger()) })

	cases := []struct {
		target string
		status int
		code   string
	}{
		{"/pypi/packages/ab/cd/demo.whl", fiber.StatusBadRequest, "malformed_key"},
		{"/simple/demo/", fiber.StatusNotFound, "route_not_found"},
		{"/-/cache/ab/cd", fiber.StatusBadRequest, "malformed_key"},
	}
	for _, tc := range cases {
		resp, err := mirror.app.Test(httptest.NewRequest("GET", tc.target, nil))
		if err != nil {
			t.Fatalf("%s: app.Test failed: %v", tc.target, err)
		}
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != tc.status || !strings.Contains(string(body), tc.code) {
			t.Fatalf("%s: expected %d/%s, got %d %s", tc.target, tc.status, tc.code, resp.StatusCode, body)
		}
	}
}

func TestBuildBlobStoreDefaultsToDisk(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.StoragePath = t.TempDir()

	store, err := buildBlobStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildBlobStore error: %v", err)
	}
	if store.Backend() != config.BlobBackendDisk {
		t.Fatalf("expected disk backend, got %s", store.Backend())
	}
}
