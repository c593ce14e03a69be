package upstream

import (
	"errors"
	"fmt"
)

// 回源失败的分类，调用方通过 errors.Is 判断。
var (
	// ErrUnavailable 表示网络/传输失败、超时或上游 5xx/429。
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrNotFound 表示上游返回 404/410。
	ErrNotFound = errors.New("upstream not found")
	// ErrProtocol 表示其它非 2xx 响应，或缺少/不匹配 Content-Length 等畸形响应。
	ErrProtocol = errors.New("upstream protocol error")
)

// Error 携带回源 URL 与状态码，Is 匹配其分类。
type Error struct {
	Kind   error
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v: GET %s", e.Kind, e.URL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 使 errors.Is(err, ErrUnavailable) 等判断成立。
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code 返回稳定的错误码，供 HTTP 层输出。
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "upstream_not_found"
	case errors.Is(err, ErrProtocol):
		return "upstream_protocol_error"
	default:
		return "upstream_unavailable"
	}
}

func statusKind(status int) error {
	switch {
	case status == 404 || status == 410:
		return ErrNotFound
	case status == 429 || status >= 500:
		return ErrUnavailable
	default:
		return ErrProtocol
	}
}
