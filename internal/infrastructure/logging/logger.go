package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Config holds logger configuration
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	Output      io.Writer
	AddSource   bool
	ServiceName string
	Environment string
}

// ParseLevel maps a config level name onto a slog level. Unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a structured logger that stamps every record with the
// service metadata and the Fields carried by the record's context.
func NewLogger(cfg Config) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(a.Key, a.Value.Time().Format(time.RFC3339Nano))
			}
			return a
		},
	}

	var inner slog.Handler = slog.NewJSONHandler(output, opts)
	if cfg.Format == "text" {
		inner = slog.NewTextHandler(output, opts)
	}

	var service []slog.Attr
	if cfg.ServiceName != "" {
		service = append(service, slog.String("service", cfg.ServiceName))
	}
	if cfg.Environment != "" {
		service = append(service, slog.String("environment", cfg.Environment))
	}

	return slog.New(fieldsHandler{next: inner.WithAttrs(service)})
}

// fieldsHandler appends the context Fields to each record.
type fieldsHandler struct {
	next slog.Handler
}

func (h fieldsHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h fieldsHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(FieldsFrom(ctx).attrs()...)
	return h.next.Handle(ctx, r)
}

func (h fieldsHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fieldsHandler{next: h.next.WithAttrs(attrs)}
}

func (h fieldsHandler) WithGroup(name string) slog.Handler {
	return fieldsHandler{next: h.next.WithGroup(name)}
}

// Fields are the correlation values a request or connection carries through
// its context. Empty values are omitted from log records.
type Fields struct {
	RequestID    string
	UserID       string
	OrgID        string
	ConnectionID string
	WorkspaceID  string
}

func (f Fields) attrs() []slog.Attr {
	pairs := [...]struct{ key, value string }{
		{"request_id", f.RequestID},
		{"user_id", f.UserID},
		{"org_id", f.OrgID},
		{"connection_id", f.ConnectionID},
		{"workspace_id", f.WorkspaceID},
	}
	attrs := make([]slog.Attr, 0, len(pairs))
	for _, p := range pairs {
		if p.value != "" {
			attrs = append(attrs, slog.String(p.key, p.value))
		}
	}
	return attrs
}

type fieldsKey struct{}

// FieldsFrom returns the Fields stored in ctx, or the zero value.
func FieldsFrom(ctx context.Context) Fields {
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

func withField(ctx context.Context, set func(*Fields)) context.Context {
	f := FieldsFrom(ctx)
	set(&f)
	return context.WithValue(ctx, fieldsKey{}, f)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return withField(ctx, func(f *Fields) { f.RequestID = id })
}

func WithUserID(ctx context.Context, id string) context.Context {
	return withField(ctx, func(f *Fields) { f.UserID = id })
}

func WithOrgID(ctx context.Context, id string) context.Context {
	return withField(ctx, func(f *Fields) { f.OrgID = id })
}

func WithConnectionID(ctx context.Context, id string) context.Context {
	return withField(ctx, func(f *Fields) { f.ConnectionID = id })
}

func WithWorkspaceID(ctx context.Context, id string) context.Context {
	return withField(ctx, func(f *Fields) { f.WorkspaceID = id })
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return FieldsFrom(ctx).RequestID
}

// LoggerFromContext binds the context Fields to logger, for call sites that
// log without passing ctx.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	attrs := FieldsFrom(ctx).attrs()
	if len(attrs) == 0 {
		return logger
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return logger.With(args...)
}

// LogPanic logs a recovered panic value with the current goroutine's stack.
func LogPanic(logger *slog.Logger, panicValue any) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	logger.Error("panic recovered",
		"panic", panicValue,
		"stack_trace", string(buf[:n]),
	)
}

// RequestRecord describes one completed HTTP request.
type RequestRecord struct {
	Method       string
	Path         string
	StatusCode   int
	Duration     time.Duration
	BytesWritten int64
	ClientIP     string
	UserAgent    string
}

// LogRequest writes rec at a level derived from its status code.
func LogRequest(ctx context.Context, logger *slog.Logger, rec RequestRecord) {
	level := slog.LevelInfo
	switch {
	case rec.StatusCode >= 500:
		level = slog.LevelError
	case rec.StatusCode >= 400:
		level = slog.LevelWarn
	}

	logger.Log(ctx, level, "http request",
		"method", rec.Method,
		"path", rec.Path,
		"status_code", rec.StatusCode,
		"duration_ms", rec.Duration.Milliseconds(),
		"bytes_written", rec.BytesWritten,
		"client_ip", rec.ClientIP,
		"user_agent", rec.UserAgent,
	)
}
