package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"infinityforum/internal/bootstrap"
	"infinityforum/internal/config"
	"infinityforum/internal/observability"

	"github.com/spf13/cobra"
)

const (
	relayConnectTimeout = 2 * time.Second
	relayFlushTimeout   = time.Second
)

// runtimeFactory opens the execution context a command runs in.
type runtimeFactory func(ctx context.Context) (*bootstrap.Runtime, func(context.Context) error, error)

// app carries the state shared by every subcommand of one invocation.
type app struct {
	factory  runtimeFactory
	rt       *bootstrap.Runtime
	shutdown func(context.Context) error

	verbose bool
	asJSON  bool
}

func defaultRuntime(ctx context.Context) (*bootstrap.Runtime, func(context.Context) error, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:  "infinityforum",
		Environment:  cfg.Env,
		ContextID:    cfg.ContextID,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: 1.0,
	})
	if err != nil {
		return nil, nil, err
	}

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		_ = shutdown(ctx)
		return nil, nil, err
	}
	return rt, shutdown, nil
}

// execute runs one invocation and always releases the runtime, including when
// the command failed.
func execute(ctx context.Context, factory runtimeFactory, args []string, out, errOut io.Writer) error {
	root, a := newRootCmd(factory)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if cErr := a.close(ctx); err == nil {
		err = cErr
	}
	return err
}

func newRootCmd(factory runtimeFactory) (*cobra.Command, *app) {
	a := &app{factory: factory}

	root := &cobra.Command{
		Use:   "forum",
		Short: "Local-first forum store",
		Long: `forum reads and writes the forum collections of one execution context.

Every invocation is its own context: it restores the logged-in user from the
store, applies one change, and announces it to the other contexts on the same
device (and, with RELAY_ENABLED, on other devices).`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			observability.ConfigureLogger(os.Getenv("APP_ENV"), level)
			return a.open(cmd.Context())
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.asJSON, "json", false, "Print results as JSON")

	root.AddCommand(
		a.registerCmd(), a.loginCmd(), a.logoutCmd(), a.whoamiCmd(),
		a.profileCmd(), a.followCmd(true), a.followCmd(false), a.usersCmd(),
		a.postCmd(), a.editCmd(), a.deleteCmd(), a.likeCmd(), a.reportCmd(),
		a.replyCmd(), a.editReplyCmd(), a.deleteReplyCmd(), a.likeReplyCmd(),
		a.feedCmd(), a.showCmd(),
		a.notificationsCmd(), a.darkModeCmd(), a.langCmd(), a.draftCmd(),
		a.watchCmd(), a.seedCmd(), a.exportCmd(), a.importCmd(),
	)
	return root, a
}

func (a *app) open(ctx context.Context) error {
	if a.rt != nil {
		return nil
	}
	rt, shutdown, err := a.factory(ctx)
	if err != nil {
		return err
	}
	a.rt, a.shutdown = rt, shutdown

	if err := rt.Start(ctx); err != nil {
		return err
	}
	if rt.Relay != nil {
		waitCtx, cancel := context.WithTimeout(ctx, relayConnectTimeout)
		defer cancel()
		if err := rt.Relay.WaitConnected(waitCtx); err != nil {
			observability.Logger.WarnContext(ctx, "relay not reachable, changes stay on this device")
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.rt == nil {
		return nil
	}
	if a.rt.Relay != nil {
		// give queued change signals a moment to reach other devices
		flushCtx, cancel := context.WithTimeout(ctx, relayFlushTimeout)
		if err := a.rt.Relay.Flush(flushCtx); err != nil {
			observability.Logger.WarnContext(ctx, "relay flush timed out, other devices may miss the change")
		}
		cancel()
	}
	err := a.rt.Close()
	if a.shutdown != nil {
		if sErr := a.shutdown(ctx); sErr != nil {
			observability.Logger.WarnContext(ctx, "tracing shutdown failed", slog.String("error", sErr.Error()))
		}
	}
	a.rt = nil
	return err
}

// print writes v as JSON with --json and as text otherwise.
func (a *app) print(w io.Writer, v any, text func(io.Writer)) error {
	if a.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
