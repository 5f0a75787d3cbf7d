// Package logger builds the zerolog root logger and carries per-request log
// fields through context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int // keep one in N lines, 0 keeps all
	Service   string
	Component string
}

// fields is immutable once stored; every With* call copies it.
type fields struct {
	requestID string
	dataset   string
	component string
}

type ctxKey struct{}

func fieldsFrom(ctx context.Context) fields {
	f, _ := ctx.Value(ctxKey{}).(fields)
	return f
}

func with(ctx context.Context, set func(*fields)) context.Context {
	f := fieldsFrom(ctx)
	set(&f)
	return context.WithValue(ctx, ctxKey{}, f)
}

func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return with(ctx, func(f *fields) { f.requestID = reqID })
}

// WithDataset tags every log line of a request with the coverage dataset it
// resolves.
func WithDataset(ctx context.Context, dataset string) context.Context {
	if dataset == "" {
		return ctx
	}
	return with(ctx, func(f *fields) { f.dataset = dataset })
}

func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return with(ctx, func(f *fields) { f.component = component })
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string { return fieldsFrom(ctx).requestID }

func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	zc := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		zc = zc.Str("service", cfg.Service)
	}
	if cfg.Component != "" {
		zc = zc.Str("component", cfg.Component)
	}
	l := zc.Logger()

	if cfg.SampleN > 1 {
		n := uint32(math.MaxUint32)
		if int64(cfg.SampleN) < math.MaxUint32 {
			n = uint32(cfg.SampleN)
		}
		// warnings and errors are never sampled away
		l = l.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: n},
			InfoSampler:  &zerolog.BasicSampler{N: n},
		})
	}
	return l
}

// ParseLevel maps LOG_LEVEL values onto zerolog levels, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// FromContext returns parent enriched with the request fields stored in ctx.
// A nil parent discards.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	if parent == nil {
		l := zerolog.Nop()
		return &l
	}
	f := fieldsFrom(ctx)
	if f == (fields{}) {
		return parent
	}
	w := parent.With()
	if f.requestID != "" {
		w = w.Str("request_id", f.requestID)
	}
	if f.dataset != "" {
		w = w.Str("dataset", f.dataset)
	}
	if f.component != "" {
		w = w.Str("component", f.component)
	}
	l := w.Logger()
	return &l
}
