package storage

import (
	"context"
	"fmt"
	"sync"
)

// quotaBackend bounds the total bytes (keys plus values) a Backend may hold.
// Usage is tracked per process; writers in other processes are only seen
// when a key they wrote is overwritten here.
type quotaBackend struct {
	Backend
	limit int64

	mu    sync.Mutex
	sizes map[string]int64
	used  int64
}

// WithQuota wraps backend so that writes exceeding limit fail with
// ErrQuotaExceeded and leave the stored value untouched.
func WithQuota(ctx context.Context, backend Backend, limit int64) (Backend, error) {
	q := &quotaBackend{Backend: backend, limit: limit, sizes: make(map[string]int64)}
	keys, err := backend.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("measure %s usage: %w", backend.Name(), err)
	}
	for _, key := range keys {
		raw, ok, err := backend.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("measure %s usage: %w", backend.Name(), err)
		}
		if ok {
			q.sizes[key] = entrySize(key, raw)
			q.used += q.sizes[key]
		}
	}
	return q, nil
}

func entrySize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

func (q *quotaBackend) Set(ctx context.Context, key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := entrySize(key, value)
	projected := q.used - q.sizes[key] + size
	if projected > q.limit {
		return fmt.Errorf("%w: writing %s needs %d of %d bytes", ErrQuotaExceeded, key, projected, q.limit)
	}
	if err := q.Backend.Set(ctx, key, value); err != nil {
		return err
	}
	q.used = projected
	q.sizes[key] = size
	return nil
}

func (q *quotaBackend) Delete(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.Backend.Delete(ctx, key); err != nil {
		return err
	}
	q.used -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

// Used returns the tracked usage in bytes.
func (q *quotaBackend) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.used
}
