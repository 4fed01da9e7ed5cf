// Package storage implements the durable key-value contract every collection
// is persisted through: whole JSON values under string keys, no transactions
// across keys.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"infinityforum/internal/models"
	"infinityforum/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Storage keys. The names match the layout written by the browser client so
// a store exported there can be imported here unchanged.
const (
	KeyUsers         = "infinityUsers"
	KeyCurrentUser   = "infinityCurrentUser"
	KeyPosts         = "infinityPosts"
	KeyDarkMode      = "infinityDarkMode"
	KeyNotifications = "infinityNotifications"
	KeyPostDraft     = "infinityPostDraft"
	KeyLanguage      = "infinityLanguage"
)

// CollectionKeys lists the keys holding JSON arrays.
var CollectionKeys = []string{KeyUsers, KeyPosts, KeyNotifications}

// ScalarKeys lists the keys holding single values.
var ScalarKeys = []string{KeyCurrentUser, KeyDarkMode, KeyPostDraft, KeyLanguage}

// ErrQuotaExceeded is returned when a write would exceed the configured capacity.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Backend is a synchronous byte store keyed by string.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Durable layers JSON encoding and the failure policy over a Backend: saves
// report failures as values and never corrupt the previous value, loads never
// fail and fall back to an empty collection.
type Durable struct {
	backend Backend
	log     *observability.StoreLogger
}

// NewDurable wraps backend.
func NewDurable(backend Backend) *Durable {
	return &Durable{
		backend: backend,
		log:     observability.NewStoreLogger(backend.Name()),
	}
}

// Backend returns the underlying backend.
func (d *Durable) Backend() Backend { return d.backend }

// Close releases the backend.
func (d *Durable) Close() error { return d.backend.Close() }

// Save serializes value and stores it under key, replacing any prior value.
// On failure the prior value is left intact and a STORAGE_ERROR is returned.
func (d *Durable) Save(ctx context.Context, key string, value any) error {
	span, ctx := observability.NewSpan(ctx, "store.save", attribute.String("key", key))
	defer span.End()

	raw, err := json.Marshal(value)
	if err != nil {
		return d.fail(ctx, span, key, "serialize", err)
	}
	return d.SaveRaw(ctx, key, raw)
}

// SaveRaw stores already-encoded JSON under key.
func (d *Durable) SaveRaw(ctx context.Context, key string, raw []byte) error {
	defer observability.TrackStore("save", d.backend.Name())()
	if err := d.backend.Set(ctx, key, raw); err != nil {
		reason := "backend"
		if errors.Is(err, ErrQuotaExceeded) {
			reason = "quota"
		}
		return d.fail(ctx, nil, key, reason, err)
	}
	d.log.LogSave(ctx, key, len(raw))
	return nil
}

func (d *Durable) fail(ctx context.Context, span *observability.Span, key, reason string, err error) error {
	observability.StoreFailures.WithLabelValues(key, reason).Inc()
	d.log.LogError(ctx, key, err, "save")
	appErr := models.NewStorageError(key, err)
	if span != nil {
		span.SetError(appErr)
	}
	return appErr
}

// LoadRaw returns the raw stored bytes for key. Backend errors are logged
// and reported as absent.
func (d *Durable) LoadRaw(ctx context.Context, key string) ([]byte, bool) {
	defer observability.TrackStore("load", d.backend.Name())()
	raw, ok, err := d.backend.Get(ctx, key)
	if err != nil {
		d.log.LogError(ctx, key, err, "load")
		return nil, false
	}
	return raw, ok
}

// Load returns the collection stored under key. Absent, null, or corrupt
// content yields an empty, non-nil slice.
func Load[T any](ctx context.Context, d *Durable, key string) []T {
	span, ctx := observability.NewSpan(ctx, "store.load", attribute.String("key", key))
	defer span.End()

	out := []T{}
	raw, ok := d.LoadRaw(ctx, key)
	if !ok {
		return out
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out
	}
	var decoded []T
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		observability.StoreCorruptLoads.WithLabelValues(key).Inc()
		d.log.LogCorrupt(ctx, key, err)
		return out
	}
	if decoded == nil {
		return out
	}
	return decoded
}

// SaveString stores a scalar value under key.
func (d *Durable) SaveString(ctx context.Context, key, value string) error {
	return d.Save(ctx, key, value)
}

// LoadString returns the scalar stored under key. Values written by clients
// that stored bare, unquoted strings are returned as-is.
func (d *Durable) LoadString(ctx context.Context, key string) (string, bool) {
	raw, ok := d.LoadRaw(ctx, key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), true
	}
	return s, true
}

// Remove deletes key. Removing an absent key is not an error.
func (d *Durable) Remove(ctx context.Context, key string) error {
	if err := d.backend.Delete(ctx, key); err != nil {
		d.log.LogError(ctx, key, err, "delete")
		return models.NewStorageError(key, fmt.Errorf("delete: %w", err))
	}
	return nil
}
