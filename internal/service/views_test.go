package service

import (
	"context"
	"testing"
	"time"

	"infinityforum/internal/bus"
	"infinityforum/internal/models"
	"infinityforum/internal/repository"
	"infinityforum/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busContext struct {
	bus   *bus.Bus
	posts *PostService
	users *UserService
	views *Views
}

func newBusContext(t *testing.T, ctx context.Context, origin string, mem storage.Backend, b bus.Broadcaster) *busContext {
	t.Helper()
	store := storage.NewDurable(mem)
	eventBus := bus.New(origin, b)
	require.NoError(t, eventBus.Start(ctx))

	sh := NewShared(eventBus)
	postRepo := repository.NewPostRepository(store)
	users := NewUserService(sh, repository.NewUserRepository(store), postRepo)
	posts := NewPostService(sh, postRepo, nil, nil)
	views := NewViews(users, posts)
	t.Cleanup(views.Attach(eventBus))
	return &busContext{bus: eventBus, posts: posts, users: users, views: views}
}

func TestViews_RefreshOnOwnAndRemoteChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := storage.NewMemoryStore()
	broadcaster := bus.NewLocalBroadcaster(8)
	defer broadcaster.Close()

	x := newBusContext(t, ctx, "x", mem, broadcaster)
	y := newBusContext(t, ctx, "y", mem, broadcaster)

	xSeen := make(chan []models.Post, 4)
	ySeen := make(chan []models.Post, 4)
	x.views.OnPostsChanged(func(p []models.Post) { xSeen <- p })
	y.views.OnPostsChanged(func(p []models.Post) { ySeen <- p })

	require.NoError(t, x.posts.Add(ctx, models.Post{ID: "P1", User: "ana"}))

	select {
	case got := <-xSeen:
		assert.Equal(t, []string{"P1"}, postIDs(got))
	default:
		t.Fatal("own context was not refreshed synchronously")
	}

	select {
	case got := <-ySeen:
		assert.Equal(t, []string{"P1"}, postIDs(got))
	case <-time.After(2 * time.Second):
		t.Fatal("other context was not refreshed")
	}
}

func TestViews_UsersChangedLocally(t *testing.T) {
	ctx := context.Background()
	x := newBusContext(t, ctx, "x", storage.NewMemoryStore(), nil)

	var got []models.User
	x.views.OnUsersChanged(func(u []models.User) { got = u })

	require.NoError(t, x.users.Register(ctx, "ana", "p", "p", nil, ""))
	require.Len(t, got, 1)
	assert.Equal(t, "ana", got[0].Username)
}

func TestViews_DetachStopsRefresh(t *testing.T) {
	ctx := context.Background()
	store := storage.NewDurable(storage.NewMemoryStore())
	eventBus := bus.New("solo", nil)
	sh := NewShared(eventBus)
	postRepo := repository.NewPostRepository(store)
	posts := NewPostService(sh, postRepo, nil, nil)
	views := NewViews(NewUserService(sh, repository.NewUserRepository(store), postRepo), posts)

	var refreshes int
	views.OnPostsChanged(func([]models.Post) { refreshes++ })
	detach := views.Attach(eventBus)

	require.NoError(t, posts.Add(ctx, models.Post{ID: "P1"}))
	detach()
	require.NoError(t, posts.Add(ctx, models.Post{ID: "P2"}))

	assert.Equal(t, 1, refreshes)
}
