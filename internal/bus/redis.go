package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"infinityforum/internal/observability"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel every context of a device shares.
const DefaultChannel = "infinityForumChannel"

type envelope struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

// RedisBroadcaster carries the same-device path over Redis pub/sub so
// contexts in separate processes on one device see each other.
type RedisBroadcaster struct {
	rdb     *redis.Client
	channel string
}

// NewRedisBroadcaster creates a broadcaster on channel. A nil client makes
// every call a no-op.
func NewRedisBroadcaster(rdb *redis.Client, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBroadcaster{rdb: rdb, channel: channel}
}

func (r *RedisBroadcaster) Publish(ctx context.Context, origin string, msg Message) error {
	if r.rdb == nil {
		return nil
	}
	inner, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	payload, err := json.Marshal(envelope{Origin: origin, Message: inner})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

// Subscribe confirms the subscription before returning, then calls fn for
// each message published by another origin until ctx is done.
func (r *RedisBroadcaster) Subscribe(ctx context.Context, origin string, fn func(raw []byte)) error {
	if r.rdb == nil {
		return nil
	}
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if rec := recover(); rec != nil {
							observability.Logger.Error("PANIC in broadcast subscriber",
								slog.Any("panic", rec),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					var env envelope
					if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
						observability.BusDropped.WithLabelValues(string(PathBroadcast), "envelope").Inc()
						observability.Logger.Warn("dropping malformed broadcast envelope",
							slog.String("channel", msg.Channel),
							slog.String("error", err.Error()),
						)
						return
					}
					if env.Origin == origin {
						return
					}
					fn(env.Message)
				}()
			}
		}
	}()

	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (r *RedisBroadcaster) Close() error { return nil }
