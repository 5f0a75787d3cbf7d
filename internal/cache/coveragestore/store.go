// Package coveragestore keeps serialized coverage sets in Redis so several
// service replicas share one copy of each upstream fetch.
package coveragestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/sky-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/sky-coverage/internal/cache/redisstore"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

type Store interface {
	Get(ctx context.Context, dataset string, order int) (*moc.MOC, bool, error)
	Put(ctx context.Context, dataset string, order int, m *moc.MOC) error
	Evict(ctx context.Context, dataset string) error
}

const envelopeVersion = 1

// envelope carries the frame next to the payload; the JSON MOC form has no
// frame of its own.
type envelope struct {
	Version int             `json:"v"`
	Frame   moc.Frame       `json:"frame"`
	MOC     json.RawMessage `json:"moc"`
}

type redisCoverageStore struct {
	cli       *redisstore.Client
	ttlFor    func(dataset string) time.Duration
	opTimeout time.Duration
}

// NewRedisStore stores entries with the TTL returned by ttlFor. Each Redis
// call is bounded by opTimeout so a slow cache never stalls a request.
func NewRedisStore(cli *redisstore.Client, ttlFor func(string) time.Duration, opTimeout time.Duration) Store {
	if ttlFor == nil {
		ttlFor = func(string) time.Duration { return time.Hour }
	}
	return &redisCoverageStore{cli: cli, ttlFor: ttlFor, opTimeout: opTimeout}
}

func (s *redisCoverageStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *redisCoverageStore) Get(ctx context.Context, dataset string, order int) (*moc.MOC, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	k := keys.CoverageKey(dataset, order)
	raw, ok, err := s.cli.Get(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Version != envelopeVersion {
		// stale layout; treat as a miss and let the caller refill
		_ = s.cli.Del(ctx, k)
		return nil, false, nil
	}
	m, err := moc.DeserializeFormat(env.MOC, moc.FormatJSON, env.Frame)
	if err != nil {
		_ = s.cli.Del(ctx, k)
		return nil, false, fmt.Errorf("coveragestore decode %q: %w", k, err)
	}
	return m, true, nil
}

func (s *redisCoverageStore) Put(ctx context.Context, dataset string, order int, m *moc.MOC) error {
	body, err := m.Serialize(moc.FormatJSON)
	if err != nil {
		return fmt.Errorf("coveragestore encode: %w", err)
	}
	raw, err := json.Marshal(envelope{Version: envelopeVersion, Frame: m.Frame(), MOC: body})
	if err != nil {
		return fmt.Errorf("coveragestore encode: %w", err)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()
	k := keys.CoverageKey(dataset, order)
	if err := s.cli.Set(ctx, k, raw, s.ttlFor(dataset)); err != nil {
		return fmt.Errorf("coveragestore redis SET %q: %w", k, err)
	}
	return nil
}

func (s *redisCoverageStore) Evict(ctx context.Context, dataset string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.cli.DelPattern(ctx, keys.DatasetPattern(dataset)); err != nil {
		return fmt.Errorf("coveragestore evict %q: %w", dataset, err)
	}
	return nil
}
