package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的正文存储后端。
const (
	BlobBackendDisk = "disk"
	BlobBackendS3   = "s3"
)

// GlobalConfig 描述进程级运行参数：监听、日志与重试。
type GlobalConfig struct {
	ListenHost      string   `mapstructure:"ListenHost"`
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
}

// StorageConfig 决定分发包正文落在本地目录还是 S3 兼容对象存储。
type StorageConfig struct {
	StoragePath       string `mapstructure:"StoragePath"`
	BlobBackend       string `mapstructure:"BlobBackend"`
	S3Bucket          string `mapstructure:"S3Bucket"`
	S3Region          string `mapstructure:"S3Region"`
	S3Endpoint        string `mapstructure:"S3Endpoint"`
	S3AccessKeyID     string `mapstructure:"S3AccessKeyID"`
	S3SecretAccessKey string `mapstructure:"S3SecretAccessKey"`
	S3Prefix          string `mapstructure:"S3Prefix"`
	S3CreateBucket    bool   `mapstructure:"S3CreateBucket"`
}

// MetadataConfig 描述元数据存储（Redis）连接。
type MetadataConfig struct {
	RedisAddr     string `mapstructure:"RedisAddr"`
	RedisPassword string `mapstructure:"RedisPassword"`
	RedisDB       int    `mapstructure:"RedisDB"`
}

// UpstreamConfig 描述上游 PyPI 与本镜像对外暴露的地址。
type UpstreamConfig struct {
	UpstreamIndexURL string `mapstructure:"UpstreamIndexURL"`
	UpstreamFilesURL string `mapstructure:"UpstreamFilesURL"`
	MirrorBaseURL    string `mapstructure:"MirrorBaseURL"`
}

// Config 是 TOML 文件映射的整体结构，所有键均位于顶层。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Storage  StorageConfig  `mapstructure:",squash"`
	Metadata MetadataConfig `mapstructure:",squash"`
	Upstream UpstreamConfig `mapstructure:",squash"`
}

// ListenAddress 返回 fiber Listen 使用的 host:port。
func (g GlobalConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", g.ListenHost, g.ListenPort)
}

// Summary 输出不含凭证的配置摘要，供启动与 check-config 日志使用。
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"listen":         c.Global.ListenAddress(),
		"blob_backend":   c.Storage.BlobBackend,
		"storage_path":   c.Storage.StoragePath,
		"redis_addr":     c.Metadata.RedisAddr,
		"upstream_index": c.Upstream.UpstreamIndexURL,
		"upstream_files": c.Upstream.UpstreamFilesURL,
		"mirror_base":    c.Upstream.MirrorBaseURL,
	}
}
