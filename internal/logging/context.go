package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceIDFromContext returns the trace ID stored by WithTraceContext, if any.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := FromContext(ctx).WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// EngineContext creates a logger context for one instrument's engine
func EngineContext(symbol, timeframe string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":    symbol,
		"timeframe": timeframe,
	}).WithComponent("engine")
}

// SignalContext creates a logger context for policy signals
func SignalContext(symbol, policy, side string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol": symbol,
		"policy": policy,
		"side":   side,
	}).WithComponent("signal")
}

// FeedContext creates a logger context for bar sources
func FeedContext(source, stream string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"source": source,
		"stream": stream,
	}).WithComponent("feed")
}

// APIContext creates a logger context for API operations
func APIContext(method, path string, statusCode int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}

// DatabaseContext creates a logger context for database operations
func DatabaseContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("database")
}

// CacheContext creates a logger context for cache operations
func CacheContext(operation, key string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"key":       key,
	}).WithComponent("cache")
}
