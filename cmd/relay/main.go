// Command relay runs the best-effort websocket relay that carries change
// signals between devices.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"infinityforum/internal/config"
	"infinityforum/internal/observability"
	"infinityforum/internal/relay"
	"infinityforum/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.ConfigureLogger(cfg.Env, slog.LevelInfo)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "infinityforum-relay",
		Environment:  cfg.Env,
		ContextID:    cfg.ContextID,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: 1.0,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	// Redis is optional: without it the relay serves only its own peers.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = storage.Dial(cfg.RedisURL)
		if err != nil {
			observability.Logger.Warn("redis unreachable, relay runs single-node", slog.String("error", err.Error()))
			rdb = nil
		}
	}

	hub := relay.NewHub(cfg.RelayMaxPeers, rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := hub.StartWiring(ctx); err != nil {
		observability.Logger.Warn("relay node wiring failed", slog.String("error", err.Error()))
	}

	app := newApp(hub, rdb, fiberprometheus.New("infinityforum-relay"))

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down relay...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := hub.Shutdown(shutdownCtx); err != nil {
			log.Printf("Hub shutdown error: %v", err)
		}
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		cancel()
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = shutdownTracing(shutdownCtx)
	}()

	log.Printf("Relay starting on port %s...", cfg.RelayListenPort)
	if err := app.Listen(":" + cfg.RelayListenPort); err != nil {
		log.Fatal(err)
	}
}

func newApp(hub *relay.Hub, rdb *redis.Client, prom *fiberprometheus.FiberPrometheus) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Infinity Forum Relay",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())

	if prom != nil {
		prom.RegisterAt(app, "/metrics")
		app.Use(prom.Middleware)
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		redisStatus := "disabled"
		if rdb != nil {
			redisStatus = "healthy"
			ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "unhealthy"
			}
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "up",
			"peers":  hub.Count(),
			"checks": fiber.Map{"redis": redisStatus},
			"time":   time.Now(),
		})
	})

	app.Use("/relay", relay.UpgradeRequired)
	app.Get("/relay", hub.Handler())
	return app
}
