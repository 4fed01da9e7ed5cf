// Package repository implements the data access layer: each forum collection
// is read and written whole through the durable store.
package repository

import (
	"context"

	"infinityforum/internal/models"
	"infinityforum/internal/storage"
)

// UserRepository defines persistence operations for the users collection.
type UserRepository interface {
	List(ctx context.Context) []models.User
	SaveAll(ctx context.Context, users []models.User) error
}

// PostRepository defines persistence operations for the posts collection.
type PostRepository interface {
	List(ctx context.Context) []models.Post
	SaveAll(ctx context.Context, posts []models.Post) error
}

// NotificationRepository defines persistence operations for the activity log.
type NotificationRepository interface {
	List(ctx context.Context) []models.Notification
	SaveAll(ctx context.Context, notifications []models.Notification) error
}

type collection[T any] struct {
	store     *storage.Durable
	key       string
	normalize func(T) T
}

func (c collection[T]) List(ctx context.Context) []T {
	items := storage.Load[T](ctx, c.store, c.key)
	if c.normalize != nil {
		for i := range items {
			items[i] = c.normalize(items[i])
		}
	}
	return items
}

func (c collection[T]) SaveAll(ctx context.Context, items []T) error {
	out := make([]T, len(items))
	for i, item := range items {
		if c.normalize != nil {
			item = c.normalize(item)
		}
		out[i] = item
	}
	return c.store.Save(ctx, c.key, out)
}

// NewUserRepository returns a UserRepository stored under infinityUsers.
// Sets are never persisted as null.
func NewUserRepository(store *storage.Durable) UserRepository {
	return collection[models.User]{store: store, key: storage.KeyUsers, normalize: models.User.Clone}
}

// NewPostRepository returns a PostRepository stored under infinityPosts.
func NewPostRepository(store *storage.Durable) PostRepository {
	return collection[models.Post]{store: store, key: storage.KeyPosts, normalize: models.Post.Clone}
}

// NewNotificationRepository returns a NotificationRepository stored under
// infinityNotifications.
func NewNotificationRepository(store *storage.Durable) NotificationRepository {
	return collection[models.Notification]{store: store, key: storage.KeyNotifications}
}
