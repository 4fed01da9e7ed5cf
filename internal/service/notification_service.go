package service

import (
	"context"
	"slices"

	"infinityforum/internal/models"
	"infinityforum/internal/repository"
)

// NotificationService keeps the activity log of one context. The in-memory
// list is the primary copy, loaded once; storage mirrors it. Changes are
// signalled locally only and never published on the bus.
type NotificationService struct {
	sh      *Shared
	repo    repository.NotificationRepository
	items   []models.Notification
	changed signal[[]models.Notification]
}

// NewNotificationService loads the log from repo.
func NewNotificationService(ctx context.Context, sh *Shared, repo repository.NotificationRepository) *NotificationService {
	return &NotificationService{sh: sh, repo: repo, items: repo.List(ctx)}
}

// List returns a copy of the log in insertion order.
func (s *NotificationService) List() []models.Notification {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	return slices.Clone(s.items)
}

// OnChange registers fn for changes of the log.
func (s *NotificationService) OnChange(fn func([]models.Notification)) func() {
	return s.changed.subscribe(fn)
}

// Add appends message. The entry is kept in memory even when mirroring it to
// storage fails; the storage error is returned.
func (s *NotificationService) Add(ctx context.Context, message string) (models.Notification, error) {
	n := models.Notification{ID: s.sh.newID(), Message: message}
	err := s.mutate(ctx, func(items []models.Notification) []models.Notification {
		return append(items, n)
	})
	return n, err
}

// Remove drops the entry with id. Unknown ids are a no-op.
func (s *NotificationService) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(items []models.Notification) []models.Notification {
		return slices.DeleteFunc(items, func(n models.Notification) bool { return n.ID == id })
	})
}

// Clear empties the log.
func (s *NotificationService) Clear(ctx context.Context) error {
	return s.mutate(ctx, func([]models.Notification) []models.Notification {
		return []models.Notification{}
	})
}

func (s *NotificationService) mutate(ctx context.Context, fn func([]models.Notification) []models.Notification) error {
	s.sh.mu.Lock()
	s.items = fn(slices.Clone(s.items))
	snapshot := slices.Clone(s.items)
	err := s.repo.SaveAll(ctx, snapshot)
	s.sh.mu.Unlock()

	s.changed.emit(snapshot)
	return err
}
