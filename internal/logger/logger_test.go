package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

func TestBuild_FieldsAndService(t *testing.T) {
	var buf bytes.Buffer
	l := Build(Config{Level: "info", Service: "coverage-server", Component: "http"}, &buf)
	l.Info().Msg("hello")

	m := decodeLine(t, buf.Bytes())
	for _, k := range []string{"timestamp", "level", "msg", "service", "component"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing %q in %v", k, m)
		}
	}
	if m["service"] != "coverage-server" || m["msg"] != "hello" {
		t.Fatalf("unexpected fields: %v", m)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel, " WARN ": zerolog.WarnLevel, "warning": zerolog.WarnLevel,
		"error": zerolog.ErrorLevel, "": zerolog.InfoLevel, "bogus": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext_AddsRequestAndDataset(t *testing.T) {
	var buf bytes.Buffer
	base := Build(Config{Level: "info"}, &buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithDataset(ctx, "2mass")
	ctx = WithComponent(ctx, "provider")
	FromContext(ctx, &base).Info().Msg("x")

	m := decodeLine(t, buf.Bytes())
	if m["request_id"] != "req-1" || m["dataset"] != "2mass" || m["component"] != "provider" {
		t.Fatalf("context fields missing: %v", m)
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	id := RequestID(ctx)
	if len(id) != 16 {
		t.Fatalf("generated id %q, want 16 hex chars", id)
	}
}

func TestSlogBridge(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	sl := NewSlog(&zl)

	sl.Debug("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %s", buf.String())
	}

	sl.WithGroup("cache").Warn("miss", "dataset", "sdss", "cells", 42, "err", errors.New("boom"))
	m := decodeLine(t, buf.Bytes())
	if m["level"] != "warn" || m["msg"] != "miss" {
		t.Fatalf("unexpected: %v", m)
	}
	if m["cache.dataset"] != "sdss" || m["cache.cells"] != float64(42) || m["cache.err"] != "boom" {
		t.Fatalf("grouped attrs missing: %v", m)
	}
}

func TestSlogBridge_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug"}, &buf)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	NewSlog(&zl).With(slog.String("component", "kafka")).Debug("tick")
	m := decodeLine(t, buf.Bytes())
	if m["component"] != "kafka" || m["level"] != "debug" {
		t.Fatalf("unexpected: %v", m)
	}
}

func TestFromContext_NoFieldsReturnsParent(t *testing.T) {
	zl := Build(Config{}, &bytes.Buffer{})
	if got := FromContext(context.Background(), &zl); got != &zl {
		t.Fatal("expected parent logger when ctx carries no fields")
	}
	// nested With* calls must not leak into the outer context
	outer := WithDataset(context.Background(), "2mass")
	_ = WithDataset(outer, "sdss")
	if got := fieldsFrom(outer).dataset; got != "2mass" {
		t.Fatalf("outer dataset = %q", got)
	}
}

func TestBuild_SamplingKeepsWarnings(t *testing.T) {
	var buf bytes.Buffer
	l := Build(Config{Level: "info", SampleN: 1000}, &buf)
	for range 10 {
		l.Warn().Msg("upstream slow")
	}
	if n := bytes.Count(buf.Bytes(), []byte("\n")); n != 10 {
		t.Fatalf("got %d warn lines, want 10", n)
	}
}
