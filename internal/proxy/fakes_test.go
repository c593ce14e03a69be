package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/any-hub/pypi-mirror/internal/artifact"
	"github.com/any-hub/pypi-mirror/internal/cache"
	"github.com/any-hub/pypi-mirror/internal/metadata"
)

type fakeMetadata struct {
	mu      sync.Mutex
	entries map[string]metadata.Entry
	getErr  error
	setErr  error

	gets atomic.Int32
	sets atomic.Int32
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{entries: map[string]metadata.Entry{}}
}

func (f *fakeMetadata) Get(_ context.Context, key string) (metadata.Entry, bool, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return metadata.Entry{}, false, f.getErr
	}
	entry, ok := f.entries[key]
	return entry, ok, nil
}

func (f *fakeMetadata) Set(_ context.Context, key string, entry metadata.Entry) error {
	f.sets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.entries[key] = entry
	return nil
}

func (f *fakeMetadata) put(key string, entry metadata.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = entry
}

func (f *fakeMetadata) lookup(key string) (metadata.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[key]
	return entry, ok
}

type fakeBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	readErr  error
	writeErr error

	reads  atomic.Int32
	writes atomic.Int32
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Backend() string { return "memory" }

func (f *fakeBlobs) Read(_ context.Context, path string) ([]byte, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	body, ok := f.objects[path]
	if !ok || len(body) == 0 {
		return nil, cache.ErrNotFound
	}
	return body, nil
}

func (f *fakeBlobs) Write(_ context.Context, path string, body io.Reader) (int64, error) {
	f.writes.Add(1)
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
	return int64(len(data)), nil
}

func (f *fakeBlobs) put(path string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = body
}

func (f *fakeBlobs) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok
}

// fakeFetcher 按顺序返回 errs 中的错误，耗尽后返回 body。设置 gate 时每次调用阻塞到 gate 关闭。
type fakeFetcher struct {
	body    []byte
	errs    []error
	gate    chan struct{}
	started chan struct{}

	calls atomic.Int32
	once  sync.Once
}

func (f *fakeFetcher) FetchArtifact(ctx context.Context, _ artifact.Key) ([]byte, error) {
	n := int(f.calls.Add(1))
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return bytes.Clone(f.body), nil
}

var errBoom = errors.New("boom")
