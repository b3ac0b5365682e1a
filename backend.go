package blobcache

import (
	"context"
	"io"
	"time"
)

// ObjectBackend is the byte-level persistence capability the Engine depends
// on. Implementations must handle concurrent access to distinct keys safely;
// concurrent Puts to the same key never happen by construction (keys embed
// a freshly minted id).
type ObjectBackend interface {
	// Put consumes content to completion and stores it under key. It is
	// atomic: either the full object is readable after return, or no object
	// exists at key. Implementations must not return success on a partial
	// write, and must tear down any partial artifact on error or context
	// cancellation.
	Put(ctx context.Context, key string, content io.Reader) (PutResult, error)

	// Get performs a whole-buffer read, for small consumers.
	Get(ctx context.Context, key string) ([]byte, error)

	// OpenRead opens a lazy stream. The caller must close it.
	OpenRead(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Idempotent: a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ListKeys enumerates every key currently stored. Ordering is
	// unspecified and the result may be eventually consistent with respect
	// to very recent Puts.
	ListKeys(ctx context.Context) ([]BackendKey, error)

	// Healthy is a cheap liveness probe.
	Healthy(ctx context.Context) bool
}

// PutResult reports what Put actually wrote. The Engine owns hashing (it
// tees the stream through its own digester before the backend ever sees the
// bytes), so the backend only reports size.
type PutResult struct {
	Size int64
}

// BackendKey is one entry returned by ListKeys, carrying enough to let the
// Orphan Reaper apply its grace window without a second round-trip.
type BackendKey struct {
	Key     string
	ModTime time.Time
}
