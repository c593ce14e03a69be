// Package server hosts the Fiber HTTP service and its request middleware chain.
// It owns route layout (simple index, package files, 404 fallback) and request
// IDs, while the actual mirror behavior is injected through MirrorHandler so
// tests can swap in fakes.
package server
