// Package metadata 保存分发包的缓存记录（是否已缓存、正文存放位置），
// 是“某个分发包是否已缓存”的唯一事实来源。
package metadata

import (
	"context"
	"errors"
)

// 记录在存储中的字段名。
const (
	FieldValid = "valid"
	FieldPath  = "path"
)

// ErrUnavailable 表示元数据存储不可达。调用方不得将其视为缓存未命中。
var ErrUnavailable = errors.New("metadata store unavailable")

// Entry 描述一个已回源的分发包。Valid 为 false 时视同不存在；
// Path 是正文在 Blob Store 中的相对路径，通常等于 artifact.Key。
type Entry struct {
	Valid bool
	Path  string
}

// Store 抽象元数据的读写，Get 在记录不存在时返回 ok=false 而非错误。
type Store interface {
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)
	Set(ctx context.Context, key string, entry Entry) error
}

// Pinger 由支持健康检查的存储实现。
type Pinger interface {
	Ping(ctx context.Context) error
}

// DecodeEntry 将存储中的字段映射解码为 Entry。缺失字段取默认值：
// valid 缺失或为 "0" 时为 false，path 缺失时为空串。空映射表示记录不存在。
func DecodeEntry(fields map[string]string) (Entry, bool) {
	if len(fields) == 0 {
		return Entry{}, false
	}
	valid, ok := fields[FieldValid]
	return Entry{
		Valid: ok && valid != "0",
		Path:  fields[FieldPath],
	}, true
}

// EncodeEntry 返回写入存储的字段映射，与 DecodeEntry 互逆。
func EncodeEntry(entry Entry) map[string]string {
	valid := "0"
	if entry.Valid {
		valid = "1"
	}
	return map[string]string{
		FieldValid: valid,
		FieldPath:  entry.Path,
	}
}
