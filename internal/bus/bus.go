package bus

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"infinityforum/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// Path names the channel a message travelled on.
type Path string

const (
	PathLocal     Path = "local"
	PathBroadcast Path = "broadcast"
	PathRelay     Path = "relay"
)

// Broadcaster is the same-device path. Implementations must not deliver a
// message back to the origin that published it.
type Broadcaster interface {
	Publish(ctx context.Context, origin string, msg Message) error
	Subscribe(ctx context.Context, origin string, fn func(raw []byte)) error
	Close() error
}

// Forwarder is the cross-device path. Send is fire-and-forget.
type Forwarder interface {
	Send(msg Message) error
}

// Handler reacts to a message of the kind it subscribed to.
type Handler func(ctx context.Context, msg Message)

// Bus is the change bus of one execution context.
type Bus struct {
	origin      string
	broadcaster Broadcaster

	mu        sync.RWMutex
	forwarder Forwarder
	subs      map[Kind]map[uint64]Handler
	nextID    uint64
}

// New returns a Bus publishing as origin. broadcaster may be nil when the
// context has no same-device peers.
func New(origin string, broadcaster Broadcaster) *Bus {
	return &Bus{
		origin:      origin,
		broadcaster: broadcaster,
		subs:        make(map[Kind]map[uint64]Handler),
	}
}

// Origin returns the execution context id this bus publishes as.
func (b *Bus) Origin() string { return b.origin }

// SetForwarder attaches the cross-device path.
func (b *Bus) SetForwarder(f Forwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarder = f
}

// Start subscribes to the broadcaster until ctx is done.
func (b *Bus) Start(ctx context.Context) error {
	if b.broadcaster == nil {
		return nil
	}
	return b.broadcaster.Subscribe(ctx, b.origin, func(raw []byte) {
		b.Deliver(ctx, PathBroadcast, raw)
	})
}

// Publish sends msg to every other context on this device and, for
// UPDATE_POSTS, to the relay. It then notifies the local subscribers so the
// publishing context refreshes itself too. Path failures are logged and never
// returned.
func (b *Bus) Publish(ctx context.Context, msg Message) {
	span, ctx := observability.NewSpan(ctx, "bus.publish", attribute.String("kind", string(msg.Kind)))
	defer span.End()

	if b.broadcaster != nil {
		if err := b.broadcaster.Publish(ctx, b.origin, msg); err != nil {
			observability.BusDropped.WithLabelValues(string(PathBroadcast), "publish").Inc()
			observability.Logger.WarnContext(ctx, "broadcast publish failed",
				slog.String("kind", string(msg.Kind)),
				slog.String("error", err.Error()),
			)
		} else {
			observability.BusPublished.WithLabelValues(string(PathBroadcast), string(msg.Kind)).Inc()
		}
	}

	b.mu.RLock()
	fwd := b.forwarder
	b.mu.RUnlock()
	if fwd != nil && msg.CrossesDevices() {
		if err := fwd.Send(msg); err != nil {
			observability.BusDropped.WithLabelValues(string(PathRelay), "send").Inc()
			observability.Logger.DebugContext(ctx, "relay send dropped",
				slog.String("kind", string(msg.Kind)),
				slog.String("error", err.Error()),
			)
		} else {
			observability.BusPublished.WithLabelValues(string(PathRelay), string(msg.Kind)).Inc()
		}
	}

	b.dispatch(ctx, PathLocal, msg)
}

// Deliver decodes an inbound payload and dispatches it. Unrecognized payloads
// are logged and dropped.
func (b *Bus) Deliver(ctx context.Context, path Path, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		observability.BusDropped.WithLabelValues(string(path), "decode").Inc()
		observability.Logger.WarnContext(ctx, "dropping unrecognized message",
			slog.String("path", string(path)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.Receive(ctx, path, msg)
}

// Receive dispatches an already decoded inbound message. On the relay path
// only UPDATE_POSTS is acted on.
func (b *Bus) Receive(ctx context.Context, path Path, msg Message) {
	if path == PathRelay && !msg.CrossesDevices() {
		observability.BusDropped.WithLabelValues(string(path), "kind").Inc()
		observability.Logger.WarnContext(ctx, "ignoring relay message",
			slog.String("kind", string(msg.Kind)),
		)
		return
	}
	observability.BusReceived.WithLabelValues(string(path), string(msg.Kind)).Inc()
	b.dispatch(ctx, path, msg)
}

// Subscribe registers h for kind and returns a func that removes it.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]Handler)
	}
	b.subs[kind][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[kind], id)
		})
	}
}

func (b *Bus) dispatch(ctx context.Context, path Path, msg Message) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[msg.Kind]))
	for _, h := range b.subs[msg.Kind] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					observability.Logger.ErrorContext(ctx, "PANIC in bus handler",
						slog.String("path", string(path)),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
				}
			}()
			h(ctx, msg)
		}()
	}
}
