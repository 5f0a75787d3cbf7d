// Package provider resolves dataset names to coverage sets. Every
// implementation reports an unknown dataset with ErrNotFound rather than an
// empty set, so callers can tell "no coverage" from "no such dataset".
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

type Interface interface {
	Coverage(ctx context.Context, dataset string) (*moc.MOC, error)
}

var (
	ErrNotFound = errors.New("dataset not found")
	ErrUpstream = errors.New("upstream coverage service failed")
)

// UpstreamError carries a non-success response from a remote provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return "upstream: " + e.Body
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

func notFound(dataset string) error {
	return fmt.Errorf("%w: %q", ErrNotFound, dataset)
}

// Static serves fixed coverage sets. It backs tests and the CLI.
type Static struct {
	mu   sync.RWMutex
	sets map[string]*moc.MOC
}

func NewStatic(sets map[string]*moc.MOC) *Static {
	s := &Static{sets: make(map[string]*moc.MOC, len(sets))}
	for k, v := range sets {
		s.sets[k] = v
	}
	return s
}

func (s *Static) Set(dataset string, m *moc.MOC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[dataset] = m
}

func (s *Static) Coverage(_ context.Context, dataset string) (*moc.MOC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.sets[dataset]
	if !ok {
		return nil, notFound(dataset)
	}
	return m, nil
}

// First asks each provider in turn and returns the first set found. Only
// ErrNotFound moves on to the next provider; any other error stops the chain.
type First []Interface

func (f First) Coverage(ctx context.Context, dataset string) (*moc.MOC, error) {
	for _, p := range f {
		m, err := p.Coverage(ctx, dataset)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, notFound(dataset)
}
