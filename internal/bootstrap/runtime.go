// Package bootstrap assembles one execution context: storage, change bus,
// optional relay connection, session and the entity managers.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"infinityforum/internal/bus"
	"infinityforum/internal/config"
	"infinityforum/internal/observability"
	"infinityforum/internal/relay"
	"infinityforum/internal/repository"
	"infinityforum/internal/service"
	"infinityforum/internal/session"
	"infinityforum/internal/storage"

	"github.com/redis/go-redis/v9"
)

// Options control runtime initialization behavior.
type Options struct {
	// Backend replaces the configured store backend when set.
	Backend storage.Backend
	// Broadcaster replaces the configured same-device broadcaster when set.
	// The caller keeps ownership and closes it.
	Broadcaster bus.Broadcaster
}

// Runtime is one execution context.
type Runtime struct {
	Config *config.Config

	Store   *storage.Durable
	Bus     *bus.Bus
	Relay   *relay.Client
	Session *session.Session
	Prefs   *session.Preferences
	Users   *service.UserService
	Posts   *service.PostService
	Notes   *service.NotificationService
	Views   *service.Views

	rdb         *redis.Client
	broadcaster bus.Broadcaster
	ownsBcast   bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	detach  []func()
	relayWG sync.WaitGroup
}

// InitRuntime opens the store and wires the managers of one context. Nothing
// is subscribed or connected until Start.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	ctx = observability.WithContextID(ctx, cfg.ContextID)
	rt := &Runtime{Config: cfg}

	if needsRedis(cfg, opts) {
		rdb, err := storage.Dial(cfg.RedisURL)
		if err != nil {
			if cfg.StoreBackend == config.BackendRedis && opts.Backend == nil {
				return nil, fmt.Errorf("redis store unavailable: %w", err)
			}
			// The broadcast path is best effort; run without same-device peers.
			observability.Logger.WarnContext(ctx, "redis unreachable, same-device broadcast disabled",
				slog.String("error", err.Error()),
			)
		} else {
			rt.rdb = rdb
		}
	}

	backend := opts.Backend
	if backend == nil {
		b, err := openBackend(cfg, rt.rdb)
		if err != nil {
			rt.closeRedis()
			return nil, err
		}
		backend = b
	}
	bounded, err := storage.WithQuota(ctx, backend, cfg.StoreQuotaBytes)
	if err != nil {
		_ = backend.Close()
		rt.closeRedis()
		return nil, err
	}
	rt.Store = storage.NewDurable(bounded)

	rt.broadcaster = opts.Broadcaster
	if rt.broadcaster == nil {
		rt.ownsBcast = true
		switch cfg.BroadcastBackend {
		case config.BroadcastLocal:
			rt.broadcaster = bus.NewLocalBroadcaster(0)
		default:
			rt.broadcaster = bus.NewRedisBroadcaster(rt.rdb, cfg.BroadcastChannel)
		}
	}
	rt.Bus = bus.New(cfg.ContextID, rt.broadcaster)

	if cfg.RelayEnabled {
		rt.Relay = relay.NewClient(relay.Options{
			URL:        cfg.RelayURL,
			MaxBackoff: time.Duration(cfg.RelayMaxBackoff) * time.Second,
		}, func(ctx context.Context, msg bus.Message) {
			rt.Bus.Receive(ctx, bus.PathRelay, msg)
		})
		rt.Bus.SetForwarder(rt.Relay)
	}

	sh := service.NewShared(rt.Bus)
	postRepo := repository.NewPostRepository(rt.Store)
	rt.Session = session.Restore(ctx, rt.Store)
	rt.Prefs = session.NewPreferences(rt.Store, rt.Bus)
	rt.Notes = service.NewNotificationService(ctx, sh, repository.NewNotificationRepository(rt.Store))
	rt.Users = service.NewUserService(sh, repository.NewUserRepository(rt.Store), postRepo)
	rt.Posts = service.NewPostService(sh, postRepo, rt.Notes, rt.Prefs)
	rt.Views = service.NewViews(rt.Users, rt.Posts)

	observability.Logger.InfoContext(ctx, "runtime initialized",
		slog.String("store", backend.Name()),
		slog.String("broadcast", cfg.BroadcastBackend),
		slog.Bool("relay", cfg.RelayEnabled),
	)
	return rt, nil
}

// Start subscribes the context to the bus and connects the relay. It returns
// once the subscriptions are live; the relay keeps reconnecting in the
// background until Close.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("runtime already started")
	}

	ctx = observability.WithContextID(ctx, r.Config.ContextID)
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.detach = append(r.detach,
		r.Bus.Subscribe(bus.KindDarkMode, r.Prefs.HandleMessage),
		r.Views.Attach(r.Bus),
	)

	if err := r.Bus.Start(ctx); err != nil {
		observability.Logger.WarnContext(ctx, "broadcast subscribe failed",
			slog.String("error", err.Error()),
		)
	}

	if r.Relay != nil {
		r.relayWG.Add(1)
		go func() {
			defer r.relayWG.Done()
			if err := r.Relay.Run(ctx); err != nil {
				observability.Logger.ErrorContext(ctx, "relay client stopped", slog.String("error", err.Error()))
			}
		}()
	}
	return nil
}

// Close stops the subscriptions and the relay and releases the store.
func (r *Runtime) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	detach := r.detach
	r.detach = nil
	r.mu.Unlock()

	for _, fn := range detach {
		fn()
	}
	if cancel != nil {
		cancel()
	}
	r.relayWG.Wait()

	var errs []error
	if r.ownsBcast {
		errs = append(errs, r.broadcaster.Close())
	}
	errs = append(errs, r.Store.Close())
	if r.rdb != nil {
		errs = append(errs, r.rdb.Close())
	}
	return errors.Join(errs...)
}

func (r *Runtime) closeRedis() {
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
}

func needsRedis(cfg *config.Config, opts Options) bool {
	if opts.Backend == nil && cfg.StoreBackend == config.BackendRedis {
		return true
	}
	return opts.Broadcaster == nil && cfg.BroadcastBackend == config.BroadcastRedis
}

func openBackend(cfg *config.Config, rdb *redis.Client) (storage.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite, config.BackendPostgres:
		store, err := storage.OpenGormStore(cfg.StoreBackend, cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		return store, nil
	case config.BackendRedis:
		return storage.NewRedisStore(rdb, cfg.StoreKeyPrefix), nil
	case config.BackendMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
