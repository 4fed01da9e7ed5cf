package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"infinityforum/internal/bus"
	"infinityforum/internal/models"
	"infinityforum/internal/repository"
	"infinityforum/internal/session"
	"infinityforum/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []bus.Message
}

func (r *recordingPublisher) Publish(_ context.Context, msg bus.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// harness is one execution context over a store that may be shared.
type harness struct {
	store *storage.Durable
	pub   *recordingPublisher
	sh    *Shared
	sess  *session.Session
	prefs *session.Preferences
	users *UserService
	posts *PostService
	notes *NotificationService
}

func newHarness(t *testing.T, backend storage.Backend) *harness {
	t.Helper()
	ctx := context.Background()
	store := storage.NewDurable(backend)
	pub := &recordingPublisher{}
	sh := NewShared(pub)

	var seq int
	sh.now = func() time.Time { return time.UnixMilli(1700000000000 + int64(seq)) }
	sh.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}

	postRepo := repository.NewPostRepository(store)
	notes := NewNotificationService(ctx, sh, repository.NewNotificationRepository(store))
	prefs := session.NewPreferences(store, pub)
	return &harness{
		store: store,
		pub:   pub,
		sh:    sh,
		sess:  session.Restore(ctx, store),
		prefs: prefs,
		users: NewUserService(sh, repository.NewUserRepository(store), postRepo),
		posts: NewPostService(sh, postRepo, notes, prefs),
		notes: notes,
	}
}

func (h *harness) loginAs(t *testing.T, name string) {
	t.Helper()
	ctx := context.Background()
	if _, ok := h.users.Get(ctx, name); !ok {
		require.NoError(t, h.users.Register(ctx, name, "pw", "pw", nil, ""))
	}
	require.NoError(t, h.users.Login(ctx, h.sess, name, "pw"))
}

type failingSets struct {
	*storage.MemoryStore
	failKey string
}

func (f *failingSets) Set(ctx context.Context, key string, value []byte) error {
	if key == f.failKey {
		return assert.AnError
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func postIDs(posts []models.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestScenario_RegisterLoginAdd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())

	require.NoError(t, h.users.Register(ctx, "ana", "p1", "p1", nil, ""))
	require.NoError(t, h.users.Login(ctx, h.sess, "ana", "p1"))
	assert.Equal(t, "ana", h.users.Current(h.sess))

	require.NoError(t, h.posts.Add(ctx, models.Post{ID: "p", User: "ana", Content: "hi"}))

	posts := h.posts.Load(ctx)
	require.Len(t, posts, 1)
	assert.Equal(t, "hi", posts[0].Content)
	assert.Equal(t, 0, posts[0].Likes)
	assert.Equal(t, []string{}, posts[0].LikedBy)
}

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name              string
		username, pw, cfm string
		wantCode          string
	}{
		{name: "Success", username: "bob", pw: "x", cfm: "x"},
		{name: "Duplicate username", username: "ana", pw: "x", cfm: "x", wantCode: models.CodeValidation},
		{name: "Password mismatch", username: "carl", pw: "x", cfm: "y", wantCode: models.CodeValidation},
		{name: "Blank username", username: "  ", pw: "x", cfm: "x", wantCode: models.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storage.NewMemoryStore()
			h := newHarness(t, mem)
			require.NoError(t, h.users.Register(ctx, "ana", "p1", "p1", nil, "bio"))
			before, _, _ := mem.Get(ctx, storage.KeyUsers)

			err := h.users.Register(ctx, tt.username, tt.pw, tt.cfm, nil, "")
			after, _, _ := mem.Get(ctx, storage.KeyUsers)

			if tt.wantCode != "" {
				assert.True(t, models.HasCode(err, tt.wantCode), "got %v", err)
				assert.Equal(t, string(before), string(after))
				return
			}
			require.NoError(t, err)
			u, ok := h.users.Get(ctx, tt.username)
			require.True(t, ok)
			assert.Equal(t, []string{}, u.Following)
			assert.Nil(t, u.Avatar)
		})
	}
}

func TestUserService_Login(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	require.NoError(t, h.users.Register(ctx, "ana", "p1", "p1", nil, ""))

	err := h.users.Login(ctx, h.sess, "ana", "wrong")
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
	assert.False(t, h.sess.LoggedIn())

	err = h.users.Login(ctx, h.sess, "nobody", "p1")
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))

	require.NoError(t, h.users.Login(ctx, h.sess, "ana", "p1"))
	require.NoError(t, h.users.Logout(ctx, h.sess))
	assert.Equal(t, "", h.users.Current(h.sess))
}

func TestUserService_RenameCascades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	require.NoError(t, h.users.Register(ctx, "A", "pw", "pw", nil, ""))
	h.loginAs(t, "bob")
	require.NoError(t, h.users.Follow(ctx, h.sess, "A"))
	h.loginAs(t, "A")
	require.NoError(t, h.users.Follow(ctx, h.sess, "bob"))

	require.NoError(t, h.posts.Add(ctx, models.Post{ID: "1", User: "A", Content: "mine", LikedBy: []string{"A"}, Likes: 1}))
	require.NoError(t, h.posts.Add(ctx, models.Post{ID: "2", User: "bob", Content: "theirs",
		Replies: []models.Reply{{ID: "r1", User: "A"}, {ID: "r2", User: "bob"}}}))
	published := h.pub.count()

	newName := "B"
	bio := "renamed"
	require.NoError(t, h.users.UpdateProfile(ctx, h.sess, ProfileUpdate{Username: &newName, Bio: &bio}))

	assert.Equal(t, "B", h.users.Current(h.sess))
	assert.Equal(t, "B", session.Restore(ctx, h.store).Current())

	posts := h.posts.Load(ctx)
	assert.Equal(t, "B", posts[0].User)
	assert.Equal(t, []string{"A"}, posts[0].LikedBy)
	assert.Equal(t, "bob", posts[1].User)
	assert.Equal(t, "B", posts[1].Replies[0].User)
	assert.Equal(t, "bob", posts[1].Replies[1].User)

	renamed, ok := h.users.Get(ctx, "B")
	require.True(t, ok)
	assert.Equal(t, "renamed", renamed.Bio)
	_, ok = h.users.Get(ctx, "A")
	assert.False(t, ok)
	assert.Equal(t, []string{"bob"}, renamed.Followers)
	bob, _ := h.users.Get(ctx, "bob")
	assert.Equal(t, []string{"B"}, bob.Followers)
	assert.Equal(t, []string{"B"}, bob.Following)

	assert.Equal(t, published+1, h.pub.count())
}

func TestUserService_RenameRejectsTakenName(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	h := newHarness(t, mem)
	h.loginAs(t, "bob")
	h.loginAs(t, "ana")
	before, _, _ := mem.Get(ctx, storage.KeyUsers)

	taken := "bob"
	err := h.users.UpdateProfile(ctx, h.sess, ProfileUpdate{Username: &taken})
	assert.True(t, models.HasCode(err, models.CodeValidation))

	after, _, _ := mem.Get(ctx, storage.KeyUsers)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, "ana", h.sess.Current())
}

func TestUserService_RenameRollsBackUsersWhenPostsFail(t *testing.T) {
	ctx := context.Background()
	backend := &failingSets{MemoryStore: storage.NewMemoryStore()}
	h := newHarness(t, backend)
	h.loginAs(t, "ana")
	require.NoError(t, h.posts.Add(ctx, models.Post{ID: "1", User: "ana"}))
	published := h.pub.count()

	backend.failKey = storage.KeyPosts
	name := "zed"
	err := h.users.UpdateProfile(ctx, h.sess, ProfileUpdate{Username: &name})
	assert.True(t, models.HasCode(err, models.CodeStorage))

	_, ok := h.users.Get(ctx, "ana")
	assert.True(t, ok)
	assert.Equal(t, "ana", h.sess.Current())
	assert.Equal(t, published, h.pub.count())
}

func TestUserService_RenameKeepsSessionWhenItsWriteFails(t *testing.T) {
	ctx := context.Background()
	backend := &failingSets{MemoryStore: storage.NewMemoryStore()}
	h := newHarness(t, backend)
	h.loginAs(t, "ana")
	require.NoError(t, h.posts.Add(ctx, models.Post{ID: "1", User: "ana"}))
	published := h.pub.count()

	backend.failKey = storage.KeyCurrentUser
	name := "zed"
	require.NoError(t, h.users.UpdateProfile(ctx, h.sess, ProfileUpdate{Username: &name}))

	assert.Equal(t, "zed", h.sess.Current())
	_, ok := h.users.Get(ctx, "zed")
	assert.True(t, ok)
	_, ok = h.users.Get(ctx, "ana")
	assert.False(t, ok)
	assert.Equal(t, "zed", h.posts.Load(ctx)[0].User)
	assert.Equal(t, published+1, h.pub.count())
}

func TestUserService_UpdateProfileRequiresLogin(t *testing.T) {
	h := newHarness(t, storage.NewMemoryStore())
	bio := "x"
	err := h.users.UpdateProfile(context.Background(), h.sess, ProfileUpdate{Bio: &bio})
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
}

func TestUserService_FollowUnfollow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	h.loginAs(t, "bob")
	h.loginAs(t, "ana")

	var changes int
	h.users.OnChange(func([]models.User) { changes++ })

	require.NoError(t, h.users.Follow(ctx, h.sess, "bob"))
	require.NoError(t, h.users.Follow(ctx, h.sess, "bob"))
	ana, _ := h.users.Get(ctx, "ana")
	bob, _ := h.users.Get(ctx, "bob")
	assert.Equal(t, []string{"bob"}, ana.Following)
	assert.Equal(t, []string{"ana"}, bob.Followers)
	assert.True(t, ana.IsFollowing("bob"))

	require.NoError(t, h.users.Unfollow(ctx, h.sess, "bob"))
	bob, _ = h.users.Get(ctx, "bob")
	assert.Empty(t, bob.Followers)

	assert.True(t, models.HasCode(h.users.Follow(ctx, h.sess, "ana"), models.CodeValidation))
	assert.True(t, models.HasCode(h.users.Follow(ctx, h.sess, "ghost"), models.CodeValidation))
	assert.Equal(t, 3, changes)
}

func TestUserService_GetAvatar(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemoryStore())
	avatar := "data:image/png;base64,AAAA"
	require.NoError(t, h.users.Register(ctx, "ana", "p", "p", &avatar, ""))
	require.NoError(t, h.users.Register(ctx, "bob", "p", "p", nil, ""))

	require.NotNil(t, h.users.GetAvatar(ctx, "ana"))
	assert.Equal(t, avatar, *h.users.GetAvatar(ctx, "ana"))
	assert.Nil(t, h.users.GetAvatar(ctx, "bob"))
	assert.Nil(t, h.users.GetAvatar(ctx, "ghost"))
}
