package log

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the request logger
	LoggerContextKey ContextKey = "logger"
	scopeContextKey  ContextKey = "request_scope"
)

// RequestScope collects identity learned while a request is handled, so the
// completion log can report it even though it was set further down the chain.
type RequestScope struct {
	mu     sync.Mutex
	userID string
}

// NewRequestContext attaches logger and a fresh RequestScope to ctx.
func NewRequestContext(ctx context.Context, logger *Logger) context.Context {
	ctx = context.WithValue(ctx, scopeContextKey, &RequestScope{})
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts the request logger, falling back to the default logger.
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	return &Logger{
		Logger:    slog.Default(),
		component: "unknown",
	}
}

// WithUser records the authenticated user on the request scope and returns a
// context whose logger carries user_id.
func WithUser(ctx context.Context, userID string) context.Context {
	if scope, ok := ctx.Value(scopeContextKey).(*RequestScope); ok {
		scope.mu.Lock()
		scope.userID = userID
		scope.mu.Unlock()
	}
	return context.WithValue(ctx, LoggerContextKey, FromContext(ctx).With(FieldUserID, userID))
}

func scopeFields(ctx context.Context, f LogFields) LogFields {
	scope, ok := ctx.Value(scopeContextKey).(*RequestScope)
	if !ok {
		return f
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if scope.userID != "" {
		f[FieldUserID] = scope.userID
	}
	return f
}

// StructuredLogger provides the event logs shared by the server and worker.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogHTTPStart logs the start of an HTTP request
func (sl *StructuredLogger) LogHTTPStart(ctx context.Context, r *http.Request, clientIP string) {
	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent"), r.Header.Get("Referer")).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.logger.DebugContext(ctx, "HTTP request started", fields.ToSlice()...)
}

// LogHTTPEnd logs the completed request along with the user resolved while
// serving it. Client errors log at warn and server errors at error.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, "", "").
		WithHTTPResponse(statusCode, durationMs, statusCode < 400).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)
	fields = scopeFields(ctx, fields)

	sl.logger.Logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

// LogMutation logs a ledger change with the balance it left the kid at.
func (sl *StructuredLogger) LogMutation(ctx context.Context, op, kidID, txID, txType string, amountCents, balanceCents int64) {
	fields := NewFields().
		WithOperation(op).
		WithMutation(kidID, txID, txType, amountCents, balanceCents)
	fields = scopeFields(ctx, fields)

	sl.logger.InfoContext(ctx, "Ledger updated", fields.ToSlice()...)
}

// LogSheetSynced logs a transaction row appended to the spreadsheet.
func (sl *StructuredLogger) LogSheetSynced(ctx context.Context, kidID, txID, ref string) {
	fields := NewFields().
		WithOperation(OpAppend).
		WithComponent(ComponentSheets)
	fields[FieldKidID] = kidID
	fields[FieldTransactionID] = txID
	fields[FieldSheetsRef] = ref

	sl.logger.InfoContext(ctx, "Transaction mirrored to sheet", fields.ToSlice()...)
}

// LogSheetRemoved logs a transaction row removed from the spreadsheet.
func (sl *StructuredLogger) LogSheetRemoved(ctx context.Context, txID, source string) {
	fields := NewFields().
		WithOperation(OpDelete).
		WithComponent(ComponentSheets)
	fields[FieldTransactionID] = txID
	fields["source"] = source

	sl.logger.InfoContext(ctx, "Transaction removed from sheet", fields.ToSlice()...)
}
