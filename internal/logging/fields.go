package logging

import (
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由/分发包键/命中状态字段，供代理请求日志复用。
func RequestFields(route, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"route":     route,
		"key":       key,
		"cache_hit": cacheHit,
	}
}

// SizeFields 同时输出原始字节数与可读形式（如 "1.2 MB"）。
func SizeFields(size int64) logrus.Fields {
	if size < 0 {
		size = 0
	}
	return logrus.Fields{
		"size_bytes": size,
		"size":       humanize.Bytes(uint64(size)),
	}
}
