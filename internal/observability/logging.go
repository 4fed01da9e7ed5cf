// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the structured logger shared by every package of one process.
var Logger *slog.Logger

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	ContextID     LogContextKey = "context_id"
	CorrelationID LogContextKey = "correlation_id"
)

// ctxHandler is a slog.Handler that adds context values to the log record.
type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(ContextID).(string); ok && id != "" {
		r.AddAttrs(slog.String("context_id", id))
	}
	if id, ok := ctx.Value(CorrelationID).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

func init() {
	ConfigureLogger(os.Getenv("APP_ENV"), slog.LevelInfo)
}

// ConfigureLogger rebuilds Logger for the given environment. Production gets
// JSON on stdout, everything else gets the text handler on stderr so CLI
// output stays readable.
func ConfigureLogger(env string, level slog.Level) {
	var handler slog.Handler
	if env == "production" || env == "prod" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	Logger = slog.New(&ctxHandler{handler})
}

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableStoreLogging bool
	EnableRelayLogging bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableStoreLogging: true,
		EnableRelayLogging: true,
	}
)

// WithContextID returns a new context tagged with the execution context id.
func WithContextID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextID, id)
}

// ExtractContextID retrieves the execution context id from ctx.
func ExtractContextID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextID).(string); ok {
		return id
	}
	return ""
}

// StoreLogger provides structured logging for durable store operations.
type StoreLogger struct {
	backend string
	logger  *slog.Logger
}

// NewStoreLogger creates a new StoreLogger for the given backend.
func NewStoreLogger(backend string) *StoreLogger {
	return &StoreLogger{backend: backend, logger: Logger}
}

// LogSave logs a successful collection write.
func (l *StoreLogger) LogSave(ctx context.Context, key string, size int) {
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.DebugContext(ctx, "store save",
		slog.String("backend", l.backend),
		slog.String("key", key),
		slog.Int("bytes", size),
	)
}

// LogCorrupt logs a stored value that could not be decoded.
func (l *StoreLogger) LogCorrupt(ctx context.Context, key string, err error) {
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.WarnContext(ctx, "store value corrupt, substituting empty collection",
		slog.String("backend", l.backend),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// LogError logs a failed store operation.
func (l *StoreLogger) LogError(ctx context.Context, key string, err error, operation string) {
	if !Config.EnableStoreLogging {
		return
	}
	l.logger.ErrorContext(ctx, "store error",
		slog.String("backend", l.backend),
		slog.String("key", key),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// RelayLogger provides structured logging for relay connections.
type RelayLogger struct {
	endpoint string
	logger   *slog.Logger
}

// NewRelayLogger creates a new RelayLogger for the given endpoint.
func NewRelayLogger(endpoint string) *RelayLogger {
	return &RelayLogger{endpoint: endpoint, logger: Logger}
}

// LogConnect logs a relay connection event.
func (l *RelayLogger) LogConnect(ctx context.Context) {
	if !Config.EnableRelayLogging {
		return
	}
	l.logger.InfoContext(ctx, "relay connected", slog.String("endpoint", l.endpoint))
}

// LogDisconnect logs a relay disconnection event.
func (l *RelayLogger) LogDisconnect(ctx context.Context, reason string) {
	if !Config.EnableRelayLogging {
		return
	}
	l.logger.InfoContext(ctx, "relay disconnected",
		slog.String("endpoint", l.endpoint),
		slog.String("reason", reason),
	)
}

// LogError logs a relay error event. Transport errors never surface further.
func (l *RelayLogger) LogError(ctx context.Context, err error, eventType string) {
	if !Config.EnableRelayLogging {
		return
	}
	l.logger.WarnContext(ctx, "relay error",
		slog.String("endpoint", l.endpoint),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogMessage logs an inbound relay message.
func (l *RelayLogger) LogMessage(ctx context.Context, messageType string) {
	if !Config.EnableRelayLogging {
		return
	}
	l.logger.DebugContext(ctx, "relay message",
		slog.String("endpoint", l.endpoint),
		slog.String("message_type", messageType),
	)
}

// LogLifecycle logs a relay lifecycle event.
func (l *RelayLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableRelayLogging {
		return
	}
	attrs := []any{
		slog.String("endpoint", l.endpoint),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "relay lifecycle", attrs...)
}
