// Package snapshot exports and imports the whole store as one YAML or JSON
// document.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"infinityforum/internal/bus"
	"infinityforum/internal/models"
	"infinityforum/internal/observability"
	"infinityforum/internal/storage"

	"gopkg.in/yaml.v3"
)

// Supported document formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Snapshot is the content of every storage key. Nil scalars were absent.
type Snapshot struct {
	Users         []models.User         `json:"users" yaml:"users"`
	Posts         []models.Post         `json:"posts" yaml:"posts"`
	Notifications []models.Notification `json:"notifications" yaml:"notifications"`
	CurrentUser   *string               `json:"currentUser,omitempty" yaml:"currentUser,omitempty"`
	DarkMode      *bool                 `json:"darkMode,omitempty" yaml:"darkMode,omitempty"`
	Language      *string               `json:"language,omitempty" yaml:"language,omitempty"`
	PostDraft     *string               `json:"postDraft,omitempty" yaml:"postDraft,omitempty"`
}

// Publisher announces the imported collections.
type Publisher interface {
	Publish(ctx context.Context, msg bus.Message)
}

// Export reads every key from store.
func Export(ctx context.Context, store *storage.Durable) Snapshot {
	snap := Snapshot{
		Users:         storage.Load[models.User](ctx, store, storage.KeyUsers),
		Posts:         storage.Load[models.Post](ctx, store, storage.KeyPosts),
		Notifications: storage.Load[models.Notification](ctx, store, storage.KeyNotifications),
	}
	if v, ok := store.LoadString(ctx, storage.KeyCurrentUser); ok && v != "" {
		snap.CurrentUser = &v
	}
	if v, ok := store.LoadString(ctx, storage.KeyDarkMode); ok {
		on := v == "true"
		snap.DarkMode = &on
	}
	if v, ok := store.LoadString(ctx, storage.KeyLanguage); ok {
		snap.Language = &v
	}
	if v, ok := store.LoadString(ctx, storage.KeyPostDraft); ok {
		snap.PostDraft = &v
	}
	return snap
}

type keyWrite struct {
	key   string
	value any
}

// Import writes snap back key by key. Keys are not written atomically: a
// failure leaves the keys written before it in place. UPDATE_POSTS and, when
// present, UPDATE_DARK_MODE are published once everything is written.
func Import(ctx context.Context, store *storage.Durable, pub Publisher, snap Snapshot) error {
	writes := []keyWrite{
		{storage.KeyUsers, normalizeUsers(snap.Users)},
		{storage.KeyPosts, normalizePosts(snap.Posts)},
		{storage.KeyNotifications, nonNil(snap.Notifications)},
	}
	if snap.CurrentUser != nil {
		writes = append(writes, keyWrite{storage.KeyCurrentUser, *snap.CurrentUser})
	}
	if snap.DarkMode != nil {
		writes = append(writes, keyWrite{storage.KeyDarkMode, *snap.DarkMode})
	}
	if snap.Language != nil {
		writes = append(writes, keyWrite{storage.KeyLanguage, *snap.Language})
	}
	if snap.PostDraft != nil {
		writes = append(writes, keyWrite{storage.KeyPostDraft, *snap.PostDraft})
	}

	for _, w := range writes {
		if err := store.Save(ctx, w.key, w.value); err != nil {
			return err
		}
	}
	observability.Logger.InfoContext(ctx, "snapshot imported",
		slog.Int("users", len(snap.Users)),
		slog.Int("posts", len(snap.Posts)),
	)

	if pub != nil {
		pub.Publish(ctx, bus.PostsUpdated())
		if snap.DarkMode != nil {
			pub.Publish(ctx, bus.DarkModeChanged(*snap.DarkMode))
		}
	}
	return nil
}

// Encode writes snap to w in format.
func Encode(w io.Writer, format string, snap Snapshot) error {
	switch format {
	case FormatYAML, "yml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		return fmt.Errorf("unknown snapshot format %q", format)
	}
}

// Decode reads a snapshot in format from r.
func Decode(r io.Reader, format string) (Snapshot, error) {
	var snap Snapshot
	var err error
	switch format {
	case FormatYAML, "yml", "":
		err = yaml.NewDecoder(r).Decode(&snap)
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&snap)
	default:
		return snap, fmt.Errorf("unknown snapshot format %q", format)
	}
	if err != nil {
		return snap, fmt.Errorf("decode %s snapshot: %w", format, err)
	}
	return snap, nil
}

func normalizeUsers(users []models.User) []models.User {
	out := make([]models.User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}

func normalizePosts(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
