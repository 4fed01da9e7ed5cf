package service

import (
	"context"

	"infinityforum/internal/bus"
	"infinityforum/internal/models"
)

// Subscriber is the receiving side of the change bus.
type Subscriber interface {
	Subscribe(kind bus.Kind, h bus.Handler) func()
}

// Views turns change signals into reloaded collections for the view layer.
// An UPDATE_POSTS from any context, this one included, reloads posts and
// users from storage.
type Views struct {
	users *UserService
	posts *PostService

	postsChanged signal[[]models.Post]
	usersChanged signal[[]models.User]
}

func NewViews(users *UserService, posts *PostService) *Views {
	return &Views{users: users, posts: posts}
}

// Attach subscribes to sub and to local user changes. The returned func
// detaches.
func (v *Views) Attach(sub Subscriber) func() {
	unsubBus := sub.Subscribe(bus.KindPosts, func(ctx context.Context, _ bus.Message) {
		v.Refresh(ctx)
	})
	unsubUsers := v.users.OnChange(v.usersChanged.emit)
	return func() {
		unsubBus()
		unsubUsers()
	}
}

// Refresh reloads both collections and notifies listeners.
func (v *Views) Refresh(ctx context.Context) {
	v.postsChanged.emit(v.posts.Load(ctx))
	v.usersChanged.emit(v.users.Load(ctx))
}

// OnPostsChanged registers fn for reloaded posts.
func (v *Views) OnPostsChanged(fn func([]models.Post)) func() {
	return v.postsChanged.subscribe(fn)
}

// OnUsersChanged registers fn for reloaded users.
func (v *Views) OnUsersChanged(fn func([]models.User)) func() {
	return v.usersChanged.subscribe(fn)
}
