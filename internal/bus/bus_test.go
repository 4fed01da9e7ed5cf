package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Message
		wantErr bool
	}{
		{name: "posts", raw: `{"type":"UPDATE_POSTS"}`, want: PostsUpdated()},
		{name: "dark mode on", raw: `{"type":"UPDATE_DARK_MODE","value":true}`, want: DarkModeChanged(true)},
		{name: "dark mode off", raw: `{"type":"UPDATE_DARK_MODE","value":false}`, want: DarkModeChanged(false)},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
		{name: "unknown type", raw: `{"type":"UPDATE_USERS"}`, wantErr: true},
		{name: "missing type", raw: `{"value":true}`, wantErr: true},
		{name: "dark mode without value", raw: `{"type":"UPDATE_DARK_MODE"}`, wantErr: true},
		{name: "posts with value", raw: `{"type":"UPDATE_POSTS","value":true}`, wantErr: true},
		{name: "extra field", raw: `{"type":"UPDATE_POSTS","posts":[]}`, wantErr: true},
		{name: "trailing data", raw: `{"type":"UPDATE_POSTS"}{"type":"UPDATE_POSTS"}`, wantErr: true},
		{name: "wrong value type", raw: `{"type":"UPDATE_DARK_MODE","value":"yes"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				var de *DecodeError
				assert.True(t, errors.As(err, &de), "expected *DecodeError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessage_MarshalJSON(t *testing.T) {
	t.Parallel()

	raw, err := PostsUpdated().MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"UPDATE_POSTS"}`, string(raw))

	raw, err = DarkModeChanged(false).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"UPDATE_DARK_MODE","value":false}`, string(raw))
}

type recordingForwarder struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *recordingForwarder) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

func TestBus_PublishNotifiesSelfAndForwards(t *testing.T) {
	b := New("ctx-a", nil)
	fwd := &recordingForwarder{}
	b.SetForwarder(fwd)

	var got []Message
	b.Subscribe(KindPosts, func(_ context.Context, msg Message) { got = append(got, msg) })

	b.Publish(context.Background(), PostsUpdated())

	assert.Equal(t, []Message{PostsUpdated()}, got)
	assert.Equal(t, []Message{PostsUpdated()}, fwd.sent)
}

func TestBus_ForwarderFailureIsSwallowed(t *testing.T) {
	b := New("ctx-a", nil)
	b.SetForwarder(&recordingForwarder{err: errors.New("not connected")})

	called := false
	b.Subscribe(KindPosts, func(context.Context, Message) { called = true })
	b.Publish(context.Background(), PostsUpdated())
	assert.True(t, called)
}

func TestBus_DarkModeStaysOnDevice(t *testing.T) {
	b := New("ctx-a", nil)
	fwd := &recordingForwarder{}
	b.SetForwarder(fwd)

	var dark []Message
	b.Subscribe(KindDarkMode, func(_ context.Context, msg Message) { dark = append(dark, msg) })

	ctx := context.Background()
	b.Publish(ctx, DarkModeChanged(true))
	assert.Empty(t, fwd.sent)
	require.Len(t, dark, 1)

	b.Deliver(ctx, PathRelay, []byte(`{"type":"UPDATE_DARK_MODE","value":false}`))
	b.Receive(ctx, PathRelay, DarkModeChanged(false))
	assert.Len(t, dark, 1)

	b.Deliver(ctx, PathBroadcast, []byte(`{"type":"UPDATE_DARK_MODE","value":false}`))
	assert.Len(t, dark, 2)
}

func TestBus_SubscribeByKindAndUnsubscribe(t *testing.T) {
	b := New("ctx-a", nil)

	var posts, dark int
	unsub := b.Subscribe(KindPosts, func(context.Context, Message) { posts++ })
	b.Subscribe(KindDarkMode, func(_ context.Context, msg Message) {
		dark++
		assert.NotNil(t, msg.Value)
	})

	ctx := context.Background()
	b.Deliver(ctx, PathRelay, []byte(`{"type":"UPDATE_POSTS"}`))
	b.Deliver(ctx, PathBroadcast, []byte(`{"type":"UPDATE_DARK_MODE","value":true}`))
	b.Deliver(ctx, PathRelay, []byte(`garbage`))
	assert.Equal(t, 1, posts)
	assert.Equal(t, 1, dark)

	unsub()
	unsub()
	b.Receive(ctx, PathRelay, PostsUpdated())
	assert.Equal(t, 1, posts)
}

func TestBus_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := New("ctx-a", nil)
	var calls int32
	b.Subscribe(KindPosts, func(context.Context, Message) { panic("boom") })
	b.Subscribe(KindPosts, func(context.Context, Message) { atomic.AddInt32(&calls, 1) })

	assert.NotPanics(t, func() { b.Publish(context.Background(), PostsUpdated()) })
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLocalBroadcaster_ExcludesOrigin(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	lb := NewLocalBroadcaster(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New("ctx-a", lb)
	b := New("ctx-b", lb)
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	var aRemote, bRemote int32
	a.Subscribe(KindPosts, func(context.Context, Message) { atomic.AddInt32(&aRemote, 1) })
	b.Subscribe(KindPosts, func(context.Context, Message) { atomic.AddInt32(&bRemote, 1) })

	a.Publish(ctx, PostsUpdated())

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&bRemote) == 1
	}, testEventuallyTimeout, testPollInterval)
	// a sees its own publish once, locally, never echoed back
	assert.Never(t, func() bool {
		return atomic.LoadInt32(&aRemote) > 1
	}, 10*testPollInterval, testPollInterval)

	require.NoError(t, lb.Close())
	assert.ErrorIs(t, lb.Publish(ctx, "ctx-a", PostsUpdated()), ErrClosed)
}

func TestLocalBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	lb := NewLocalBroadcaster(1)
	ctx, cancel := context.WithCancel(context.Background())

	var received int32
	require.NoError(t, lb.Subscribe(ctx, "ctx-b", func([]byte) { atomic.AddInt32(&received, 1) }))
	cancel()

	assert.Eventually(t, func() bool {
		lb.mu.RLock()
		defer lb.mu.RUnlock()
		return len(lb.subs) == 0
	}, testEventuallyTimeout, testPollInterval)

	require.NoError(t, lb.Publish(context.Background(), "ctx-a", PostsUpdated()))
	require.NoError(t, lb.Close())
	assert.Equal(t, int32(0), atomic.LoadInt32(&received))
}

func TestLocalBroadcaster_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	lb := NewLocalBroadcaster(1)
	block := make(chan struct{})
	var received int32
	require.NoError(t, lb.Subscribe(context.Background(), "ctx-b", func([]byte) {
		<-block
		atomic.AddInt32(&received, 1)
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, lb.Publish(context.Background(), "ctx-a", PostsUpdated()))
	}
	close(block)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&received) >= 1
	}, testEventuallyTimeout, testPollInterval)
	require.NoError(t, lb.Close())
	assert.Less(t, atomic.LoadInt32(&received), int32(5))
}

func TestRedisBroadcaster_NilClientIsNoop(t *testing.T) {
	r := NewRedisBroadcaster(nil, "")
	assert.NoError(t, r.Publish(context.Background(), "ctx-a", PostsUpdated()))
	assert.NoError(t, r.Subscribe(context.Background(), "ctx-a", func([]byte) {}))
	assert.NoError(t, r.Close())
}

func TestRedisBroadcaster_CrossProcessDelivery(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New("ctx-a", NewRedisBroadcaster(rdb, DefaultChannel))
	b := New("ctx-b", NewRedisBroadcaster(rdb, DefaultChannel))
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	var aDark, bDark atomic.Value
	a.Subscribe(KindDarkMode, func(_ context.Context, msg Message) { aDark.Store(*msg.Value) })
	b.Subscribe(KindDarkMode, func(_ context.Context, msg Message) { bDark.Store(*msg.Value) })

	a.Publish(ctx, DarkModeChanged(true))

	assert.Eventually(t, func() bool {
		v, ok := bDark.Load().(bool)
		return ok && v
	}, testEventuallyTimeout, testPollInterval)
	v, _ := aDark.Load().(bool)
	assert.True(t, v)

	// a malformed payload on the channel is dropped, not delivered
	require.NoError(t, rdb.Publish(ctx, DefaultChannel, "not an envelope").Err())
	require.NoError(t, rdb.Publish(ctx, DefaultChannel, `{"origin":"ctx-x","message":{"type":"UPDATE_DARK_MODE","value":false}}`).Err())
	assert.Eventually(t, func() bool {
		v, ok := bDark.Load().(bool)
		return ok && !v
	}, testEventuallyTimeout, testPollInterval)
}
