// Package logging wraps a global zerolog logger used by every leadsync component.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // json or console
	Output io.Writer
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	agencyIDKey  contextKey = "agency_id"
)

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

func init() {
	initLogger(Config{Level: "info", Format: "json"})
}

// Init configures the global logger; safe to call more than once
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	initLogger(cfg)
}

func initLogger(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	log = zerolog.New(output).With().Timestamp().Str("service", "leadsync").Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the global logger
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func Debug() *zerolog.Event { l := Logger(); return l.Debug() }
func Info() *zerolog.Event  { l := Logger(); return l.Info() }
func Warn() *zerolog.Event  { l := Logger(); return l.Warn() }
func Error() *zerolog.Event { l := Logger(); return l.Error() }

// WithRequestID stores the HTTP request id for Ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithAgency stores the tenant id for Ctx
func WithAgency(ctx context.Context, agencyID string) context.Context {
	return context.WithValue(ctx, agencyIDKey, agencyID)
}

// Ctx returns a logger carrying the request id and agency id found in ctx
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger().With()
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		l = l.Str("request_id", id)
	}
	if id, ok := ctx.Value(agencyIDKey).(string); ok && id != "" {
		l = l.Str("agency_id", id)
	}
	logger := l.Logger()
	return &logger
}
