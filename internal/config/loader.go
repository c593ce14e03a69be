package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 PYPI_MIRROR_REDISADDR。
const EnvPrefix = "PYPI_MIRROR"

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.BlobBackend == BlobBackendDisk {
		absStorage, err := filepath.Abs(cfg.Storage.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Storage.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenHost", "")
	v.SetDefault("ListenPort", 9000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxRetries", 0)
	v.SetDefault("InitialBackoff", "1s")

	v.SetDefault("StoragePath", "./cache")
	v.SetDefault("BlobBackend", BlobBackendDisk)
	v.SetDefault("S3Bucket", "")
	v.SetDefault("S3Region", "us-east-1")
	v.SetDefault("S3Endpoint", "")
	v.SetDefault("S3AccessKeyID", "")
	v.SetDefault("S3SecretAccessKey", "")
	v.SetDefault("S3Prefix", "")
	v.SetDefault("S3CreateBucket", false)

	v.SetDefault("RedisAddr", "127.0.0.1:6379")
	v.SetDefault("RedisPassword", "")
	v.SetDefault("RedisDB", 0)

	v.SetDefault("UpstreamIndexURL", "https://pypi.org/simple")
	v.SetDefault("UpstreamFilesURL", "https://files.pythonhosted.org/packages")
	v.SetDefault("MirrorBaseURL", "http://localhost:9000/pypi/packages")
}

func applyDefaults(cfg *Config) {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 9000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}

	s := &cfg.Storage
	s.BlobBackend = strings.ToLower(strings.TrimSpace(s.BlobBackend))
	if s.BlobBackend == "" {
		s.BlobBackend = BlobBackendDisk
	}

	u := &cfg.Upstream
	u.UpstreamIndexURL = strings.TrimRight(strings.TrimSpace(u.UpstreamIndexURL), "/")
	u.UpstreamFilesURL = strings.TrimRight(strings.TrimSpace(u.UpstreamFilesURL), "/")
	u.MirrorBaseURL = strings.TrimRight(strings.TrimSpace(u.MirrorBaseURL), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
