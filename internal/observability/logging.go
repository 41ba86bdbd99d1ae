// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// SetLogger replaces the global logger, used once the application logger is configured.
func SetLogger(l *slog.Logger) {
	if l != nil {
		GlobalLogger = &Logger{Logger: l}
	}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

func attrsFrom(base []any, fields map[string]interface{}) []any {
	for k, v := range fields {
		base = append(base, slog.Any(k, v))
	}
	return base
}

// LogAsyncOperationStart logs the start of an asynchronous operation.
func LogAsyncOperationStart(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_start"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation started", attrs...)
}

// LogAsyncOperationEnd logs the completion of an asynchronous operation.
func LogAsyncOperationEnd(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_end"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.InfoContext(ctx, "async operation completed", attrs...)
}

// LogAsyncOperationError logs an error in an asynchronous operation.
func LogAsyncOperationError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	attrs := attrsFrom([]any{
		slog.String("operation", operation),
		slog.String("type", "async_error"),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}, fields)
	GlobalLogger.ErrorContext(ctx, "async operation failed", attrs...)
}

// StoreLogger provides structured logging for document store round trips.
type StoreLogger struct {
	backend string
	logger  *Logger
}

// NewStoreLogger creates a new StoreLogger for the given backend.
func NewStoreLogger(backend string) *StoreLogger {
	return &StoreLogger{
		backend: backend,
		logger:  GlobalLogger,
	}
}

// LogFetch logs a document read.
func (l *StoreLogger) LogFetch(ctx context.Context, version string, size int) {
	l.logger.DebugContext(ctx, "document fetched",
		slog.String("backend", l.backend),
		slog.String("version", version),
		slog.Int("bytes", size),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogWrite logs a successful conditional write.
func (l *StoreLogger) LogWrite(ctx context.Context, previous, current string) {
	l.logger.InfoContext(ctx, "document written",
		slog.String("backend", l.backend),
		slog.String("previous_version", previous),
		slog.String("version", current),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogConflict logs a version mismatch on write.
func (l *StoreLogger) LogConflict(ctx context.Context, version string, attempt int) {
	l.logger.WarnContext(ctx, "document version conflict",
		slog.String("backend", l.backend),
		slog.String("version", version),
		slog.Int("attempt", attempt),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a store failure.
func (l *StoreLogger) LogError(ctx context.Context, err error, operation string) {
	l.logger.ErrorContext(ctx, "document store error",
		slog.String("backend", l.backend),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}
