package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.MaxRetries < 0 {
		return newFieldError("MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}

	s := c.Storage
	switch s.BlobBackend {
	case BlobBackendDisk:
		if s.StoragePath == "" {
			return newFieldError("StoragePath", "不能为空")
		}
	case BlobBackendS3:
		if s.S3Bucket == "" {
			return newFieldError("S3Bucket", "BlobBackend=s3 时不能为空")
		}
		if (s.S3AccessKeyID == "") != (s.S3SecretAccessKey == "") {
			return newFieldError("S3AccessKeyID/S3SecretAccessKey", "必须同时提供或同时留空")
		}
		if s.S3Endpoint != "" {
			if err := validateHTTPURL(s.S3Endpoint); err != nil {
				return fmt.Errorf("S3Endpoint: %w", err)
			}
		}
	default:
		return newFieldError("BlobBackend", "仅支持 disk|s3")
	}

	if c.Metadata.RedisAddr == "" {
		return newFieldError("RedisAddr", "不能为空")
	}
	if c.Metadata.RedisDB < 0 {
		return newFieldError("RedisDB", "不能为负数")
	}

	u := c.Upstream
	if err := validateHTTPURL(u.UpstreamIndexURL); err != nil {
		return fmt.Errorf("UpstreamIndexURL: %w", err)
	}
	if err := validateHTTPURL(u.UpstreamFilesURL); err != nil {
		return fmt.Errorf("UpstreamFilesURL: %w", err)
	}
	if err := validateHTTPURL(u.MirrorBaseURL); err != nil {
		return fmt.Errorf("MirrorBaseURL: %w", err)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
