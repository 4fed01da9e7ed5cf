package session

import (
	"context"
	"sync"

	"infinityforum/internal/bus"
	"infinityforum/internal/models"
	"infinityforum/internal/storage"
)

// Supported interface languages.
const (
	LangES = "es"
	LangEN = "en"
)

// DefaultLanguage is used when nothing is stored.
const DefaultLanguage = LangES

// Publisher sends a change signal to the other contexts.
type Publisher interface {
	Publish(ctx context.Context, msg bus.Message)
}

// Preferences are the device-level settings. Dark mode is shared with the
// other contexts over the bus; language and draft stay local.
type Preferences struct {
	store *storage.Durable
	pub   Publisher

	mu        sync.Mutex
	listeners map[int]func(bool)
	nextID    int
	applied   *bool
}

// NewPreferences returns preferences backed by store. pub may be nil.
func NewPreferences(store *storage.Durable, pub Publisher) *Preferences {
	return &Preferences{store: store, pub: pub, listeners: make(map[int]func(bool))}
}

// DarkMode returns the stored setting, false when unset.
func (p *Preferences) DarkMode(ctx context.Context) bool {
	v, ok := p.store.LoadString(ctx, storage.KeyDarkMode)
	return ok && v == "true"
}

// SetDarkMode persists on, notifies local listeners and publishes
// UPDATE_DARK_MODE. The publish happens even when the write failed.
func (p *Preferences) SetDarkMode(ctx context.Context, on bool) error {
	err := p.applyDarkMode(ctx, on)
	if p.pub != nil {
		p.pub.Publish(ctx, bus.DarkModeChanged(on))
	}
	return err
}

// HandleMessage applies an inbound dark mode change without re-publishing.
// It is meant to be subscribed to bus.KindDarkMode; the echo of this
// context's own SetDarkMode is ignored.
func (p *Preferences) HandleMessage(ctx context.Context, msg bus.Message) {
	if msg.Kind != bus.KindDarkMode || msg.Value == nil {
		return
	}
	p.mu.Lock()
	same := p.applied != nil && *p.applied == *msg.Value
	p.mu.Unlock()
	if same {
		return
	}
	_ = p.applyDarkMode(ctx, *msg.Value)
}

func (p *Preferences) applyDarkMode(ctx context.Context, on bool) error {
	err := p.store.Save(ctx, storage.KeyDarkMode, on)

	p.mu.Lock()
	p.applied = &on
	listeners := make([]func(bool), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(on)
	}
	return err
}

// OnDarkModeChanged registers fn and returns a func that removes it.
func (p *Preferences) OnDarkModeChanged(fn func(on bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Language returns the stored language, DefaultLanguage when unset or unknown.
func (p *Preferences) Language(ctx context.Context) string {
	v, ok := p.store.LoadString(ctx, storage.KeyLanguage)
	if !ok || (v != LangES && v != LangEN) {
		return DefaultLanguage
	}
	return v
}

// SetLanguage stores lang, which must be "es" or "en".
func (p *Preferences) SetLanguage(ctx context.Context, lang string) error {
	if lang != LangES && lang != LangEN {
		return models.NewValidationError("unsupported language " + lang)
	}
	return p.store.SaveString(ctx, storage.KeyLanguage, lang)
}

// ToggleLanguage flips between es and en and returns the new language.
func (p *Preferences) ToggleLanguage(ctx context.Context) (string, error) {
	next := LangEN
	if p.Language(ctx) == LangEN {
		next = LangES
	}
	return next, p.SetLanguage(ctx, next)
}

// Draft returns the unsent post text.
func (p *Preferences) Draft(ctx context.Context) string {
	v, _ := p.store.LoadString(ctx, storage.KeyPostDraft)
	return v
}

// SaveDraft stores the unsent post text.
func (p *Preferences) SaveDraft(ctx context.Context, text string) error {
	return p.store.SaveString(ctx, storage.KeyPostDraft, text)
}

// ClearDraft drops the unsent post text.
func (p *Preferences) ClearDraft(ctx context.Context) error {
	return p.store.Remove(ctx, storage.KeyPostDraft)
}
