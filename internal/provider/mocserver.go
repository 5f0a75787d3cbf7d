package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mohammed-shakir/sky-coverage/internal/core/observability"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

// maxPayload bounds a single upstream MOC; all-sky surveys at order 11 stay
// well below it.
const maxPayload = 64 << 20

// MocServer fetches coverage from a CDS-style MocServer query endpoint.
type MocServer struct {
	logger   *slog.Logger
	client   *http.Client
	base     *url.URL
	registry *Registry
	defOrder int
	startNow func() time.Time // for tests
}

func NewMocServer(logger *slog.Logger, client *http.Client, base string, reg *Registry) (*MocServer, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse mocserver url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("mocserver url %q needs scheme and host", base)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &MocServer{logger: logger, client: client, base: u, registry: reg, defOrder: -1, startNow: time.Now}, nil
}

// SetDefaultOrder caps the resolution requested for datasets that name no
// order of their own. A negative order asks for the upstream resolution.
func (s *MocServer) SetDefaultOrder(order int) { s.defOrder = order }

// QueryURL is the request issued for a dataset.
func (s *MocServer) QueryURL(dataset string) string {
	d := s.registry.Resolve(dataset)
	params := url.Values{}
	params.Set("ID", d.ID)
	params.Set("get", "moc")
	params.Set("fmt", "json")
	order := d.Order
	if order < 0 {
		order = s.defOrder
	}
	if order >= 0 {
		params.Set("order", strconv.Itoa(order))
	}
	u := *s.base
	u.RawQuery = params.Encode()
	return u.String()
}

func (s *MocServer) Coverage(ctx context.Context, dataset string) (*moc.MOC, error) {
	d := s.registry.Resolve(dataset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.QueryURL(dataset), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := s.startNow()
	resp, err := s.client.Do(req)
	if err != nil {
		observability.ObserveUpstreamLatency("mocserver", err, time.Since(start).Seconds())
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %q: %w", dataset, ctx.Err())
		}
		return nil, fmt.Errorf("fetch %q: %w", dataset, &UpstreamError{Body: err.Error()})
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		observability.ObserveUpstreamLatency("mocserver", nil, time.Since(start).Seconds())
		return nil, notFound(dataset)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		uerr := &UpstreamError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
		observability.ObserveUpstreamLatency("mocserver", uerr, time.Since(start).Seconds())
		return nil, fmt.Errorf("fetch %q: %w", dataset, uerr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload+1))
	observability.ObserveUpstreamLatency("mocserver", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxPayload {
		return nil, fmt.Errorf("fetch %q: %w", dataset, &UpstreamError{Status: resp.StatusCode, Body: "payload too large"})
	}
	// MocServer answers an unknown ID with 200 and no content.
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, notFound(dataset)
	}

	decStart := time.Now()
	m, err := moc.Deserialize(body, d.Frame)
	observability.ObserveCoverageOp("deserialize", time.Since(decStart).Seconds())
	if err != nil {
		if errors.Is(err, moc.ErrMalformedPayload) {
			s.logger.WarnContext(ctx, "mocserver returned malformed coverage", "dataset", dataset, "id", d.ID, "err", err)
		}
		return nil, fmt.Errorf("decode %q: %w", dataset, err)
	}
	s.logger.DebugContext(ctx, "coverage fetched",
		"dataset", dataset, "cells", m.Len(), "max_order", m.MaxOrder(), "bytes", len(body))
	return m, nil
}
