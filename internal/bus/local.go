package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"infinityforum/internal/observability"
)

// ErrClosed is returned by a closed LocalBroadcaster.
var ErrClosed = errors.New("broadcaster closed")

const defaultLocalBuffer = 64

// LocalBroadcaster is an in-process broadcaster shared by every execution
// context hosted in one process. Each subscriber gets its own buffered queue
// drained by one goroutine, so a slow subscriber only loses its own messages.
type LocalBroadcaster struct {
	buffer int

	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

type localSub struct {
	origin string
	ch     chan []byte
}

// NewLocalBroadcaster returns a broadcaster whose subscribers buffer up to
// buffer messages. A non-positive buffer uses the default.
func NewLocalBroadcaster(buffer int) *LocalBroadcaster {
	if buffer <= 0 {
		buffer = defaultLocalBuffer
	}
	return &LocalBroadcaster{buffer: buffer, subs: make(map[*localSub]struct{})}
}

func (l *LocalBroadcaster) Publish(_ context.Context, origin string, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	for s := range l.subs {
		if s.origin == origin {
			continue
		}
		select {
		case s.ch <- raw:
		default:
			observability.BusDropped.WithLabelValues(string(PathBroadcast), "full").Inc()
		}
	}
	return nil
}

func (l *LocalBroadcaster) Subscribe(ctx context.Context, origin string, fn func(raw []byte)) error {
	s := &localSub{origin: origin, ch: make(chan []byte, l.buffer)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.subs[s] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-ctx.Done():
				l.mu.Lock()
				delete(l.subs, s)
				l.mu.Unlock()
				return
			case raw, ok := <-s.ch:
				if !ok {
					return
				}
				fn(raw)
			}
		}
	}()
	return nil
}

// Close stops every subscriber and waits for their goroutines to exit.
func (l *LocalBroadcaster) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for s := range l.subs {
		close(s.ch)
	}
	l.subs = make(map[*localSub]struct{})
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}
