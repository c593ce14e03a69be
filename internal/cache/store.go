package cache

import (
	"context"
	"errors"
	"io"
)

// Store 负责管理分发包正文的读写。磁盘布局遵循：
//
//	<StoragePath>/<dir1>/<dir2>/<dir3>/<filename>
//
// path 均为 URL 路径风格的相对路径，通常与 artifact.Key 相同。
type Store interface {
	// Read 返回完整正文。文件不存在、为目录或长度为 0 时返回 ErrNotFound。
	Read(ctx context.Context, path string) ([]byte, error)

	// Write 将 body 写入 path。实现需保证并发读者永远看不到写了一半的文件，
	// 并在失败时清理临时数据。返回写入的字节数。
	Write(ctx context.Context, path string, body io.Reader) (int64, error)

	// Backend 返回后端名称（disk/s3），供诊断与日志使用。
	Backend() string
}

// ErrNotFound 表示缓存正文不存在或不可用。
var ErrNotFound = errors.New("cache blob not found")
