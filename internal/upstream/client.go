// Package upstream 封装对 PyPI 的回源请求：simple index 页面与分发包正文。
// 每次调用仅发起一次 GET，不做重试；超时由注入的 http.Client 控制。
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/pypi-mirror/internal/artifact"
	"github.com/any-hub/pypi-mirror/internal/version"
)

// Client 向固定的 index/files 基础地址发起回源请求。
type Client struct {
	http      *http.Client
	indexBase *url.URL
	filesBase *url.URL
}

// NewClient 使用共享的 http.Client 构建回源客户端。
func NewClient(httpClient *http.Client, indexBase, filesBase string) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}
	index, err := parseBase(indexBase)
	if err != nil {
		return nil, fmt.Errorf("index base: %w", err)
	}
	files, err := parseBase(filesBase)
	if err != nil {
		return nil, fmt.Errorf("files base: %w", err)
	}
	return &Client{http: httpClient, indexBase: index, filesBase: files}, nil
}

func parseBase(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", raw)
	}
	return parsed, nil
}

// FilesBase 返回分发包基础地址，Index Rewriter 以它作为替换目标。
func (c *Client) FilesBase() string {
	return c.filesBase.String()
}

// IndexURL 返回某个包的 simple index 地址（带末尾斜杠，避免上游 301）。
func (c *Client) IndexURL(packageName string) string {
	u := c.indexBase.JoinPath(packageName)
	u.Path += "/"
	u.RawPath = ""
	return u.String()
}

// ArtifactURL 返回分发包在上游的地址。
func (c *Client) ArtifactURL(key artifact.Key) string {
	return c.filesBase.JoinPath(key.String()).String()
}

// FetchIndex 获取 simple index HTML。
func (c *Client) FetchIndex(ctx context.Context, packageName string) (string, error) {
	if packageName == "" || strings.ContainsAny(packageName, "/\\") {
		return "", fmt.Errorf("%w: invalid package name %q", artifact.ErrMalformedKey, packageName)
	}
	body, err := c.get(ctx, c.IndexURL(packageName), false)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchArtifact 获取分发包正文。响应必须携带 Content-Length 且正文长度一致，
// 否则视为 ErrProtocol，调用方不得缓存。
func (c *Client) FetchArtifact(ctx context.Context, key artifact.Key) ([]byte, error) {
	if key.IsZero() {
		return nil, artifact.ErrMalformedKey
	}
	return c.get(ctx, c.ArtifactURL(key), true)
}

func (c *Client) get(ctx context.Context, target string, requireLength bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, &Error{Kind: ErrProtocol, URL: target, Err: err}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if requireLength {
		// 透明解压会丢弃 Content-Length，分发包本身已是压缩格式。
		req.Header.Set("Accept-Encoding", "identity")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrUnavailable, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: statusKind(resp.StatusCode), URL: target, Status: resp.StatusCode}
	}

	if requireLength && resp.ContentLength <= 0 {
		return nil, &Error{
			Kind:   ErrProtocol,
			URL:    target,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("unusable content length %d", resp.ContentLength),
		}
	}

	body, err := readBody(resp)
	if err != nil {
		kind := ErrUnavailable
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			kind = ErrProtocol
		}
		return nil, &Error{Kind: kind, URL: target, Status: resp.StatusCode, Err: err}
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, &Error{
			Kind:   ErrProtocol,
			URL:    target,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("body length %d does not match content length %d", len(body), resp.ContentLength),
		}
	}
	return body, nil
}

// maxPrealloc 限制按 Content-Length 预分配的缓冲区大小，超出部分走 io.ReadAll。
const maxPrealloc = 64 << 20

func readBody(resp *http.Response) ([]byte, error) {
	if resp.ContentLength > 0 && resp.ContentLength <= maxPrealloc {
		buf := make([]byte, resp.ContentLength)
		n, err := io.ReadFull(resp.Body, buf)
		if err != nil {
			return buf[:n], err
		}
		return buf, nil
	}
	return io.ReadAll(resp.Body)
}
