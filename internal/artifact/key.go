// Package artifact 定义上游分发包的定位键，所有缓存层共享同一套路径语义。
package artifact

import (
	"errors"
	"fmt"
	"strings"
)

// SegmentCount 是 files.pythonhosted.org/packages 下分发包路径的固定段数。
const SegmentCount = 4

// ErrMalformedKey 表示客户端提供的路径无法构成合法的 Key。
var ErrMalformedKey = errors.New("malformed artifact key")

// Key 唯一标识上游的一个分发包（dir1/dir2/dir3/filename），
// 同时作为元数据键与缓存根目录下的相对路径。
type Key struct {
	segments [SegmentCount]string
}

// Parse 将 dir1/dir2/dir3/filename 解析为 Key。不做任何裁剪，
// 前导、末尾或连续的斜杠都会产生空段并被拒绝。
func Parse(raw string) (Key, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != SegmentCount {
		return Key{}, fmt.Errorf("%w: expected %d segments, got %d", ErrMalformedKey, SegmentCount, len(parts))
	}
	return New(parts[0], parts[1], parts[2], parts[3])
}

// New 由四个路径段构造 Key，任一段为空或为相对目录时返回 ErrMalformedKey。
func New(dir1, dir2, dir3, filename string) (Key, error) {
	k := Key{segments: [SegmentCount]string{dir1, dir2, dir3, filename}}
	for i, seg := range k.segments {
		if err := validateSegment(seg); err != nil {
			return Key{}, fmt.Errorf("%w: segment %d %v", ErrMalformedKey, i+1, err)
		}
	}
	return k, nil
}

func validateSegment(seg string) error {
	switch {
	case seg == "":
		return errors.New("is empty")
	case seg == "." || seg == "..":
		return fmt.Errorf("%q not allowed", seg)
	case strings.ContainsAny(seg, "/\\"):
		return errors.New("contains path separator")
	case strings.ContainsRune(seg, 0):
		return errors.New("contains NUL")
	}
	return nil
}

// String 返回 dir1/dir2/dir3/filename 形式的路径。
func (k Key) String() string {
	return strings.Join(k.segments[:], "/")
}

// Filename 返回最后一段，用于推断 Content-Type。
func (k Key) Filename() string {
	return k.segments[SegmentCount-1]
}

// IsZero 报告 Key 是否未初始化。
func (k Key) IsZero() bool {
	return k.segments[0] == ""
}
