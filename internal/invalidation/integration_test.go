package invalidation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/sky-coverage/internal/cache/coveragestore"
	"github.com/mohammed-shakir/sky-coverage/internal/cache/redisstore"
	"github.com/mohammed-shakir/sky-coverage/internal/core/config"
	"github.com/mohammed-shakir/sky-coverage/internal/invalidation"
	"github.com/mohammed-shakir/sky-coverage/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/sky-coverage/internal/metrics"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
	"github.com/mohammed-shakir/sky-coverage/internal/provider"
)

func TestIntegration_Miniredis_EvictAndMetrics(t *testing.T) {
	p := metrics.Init(metrics.Config{Enabled: true})

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	cli, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	v1, _ := moc.New(moc.FrameICRS, 3, moc.Cell{Order: 0, Index: 5})
	v2, _ := moc.New(moc.FrameICRS, 3, moc.Cell{Order: 0, Index: 6})
	up := provider.NewStatic(map[string]*moc.MOC{"2mass": v1})
	cached, err := provider.NewCached(up, 8, provider.WithStore(coveragestore.NewRedisStore(cli, nil, time.Second)))
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}

	ctx := context.Background()
	if _, err := cached.Coverage(ctx, "2mass"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := cached.CoverageAt(ctx, "2mass", 1); err != nil {
		t.Fatalf("warm degraded: %v", err)
	}
	if len(mr.Keys()) != 2 {
		t.Fatalf("expected 2 redis entries, got %v", mr.Keys())
	}

	// upstream changes; cache still serves the old set until invalidated
	up.Set("2mass", v2)
	if m, _ := cached.Coverage(ctx, "2mass"); !m.Equal(v1) {
		t.Fatalf("expected cached v1 before invalidation")
	}

	cons := kafkaconsumer.New(kafkaconsumer.FromConfig(config.FromEnv().Invalidation), nil, cached)
	body, _ := json.Marshal(invalidation.NewEvent(invalidation.OpUpdate, "2mass", "integration", time.Now()))
	msg := &sarama.ConsumerMessage{Topic: "t", Partition: 0, Offset: 1, Value: body}
	if err := cons.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	if len(mr.Keys()) != 0 {
		t.Fatalf("expected redis entries removed, got %v", mr.Keys())
	}
	if m, _ := cached.Coverage(ctx, "2mass"); !m.Equal(v2) {
		t.Fatalf("expected fresh v2 after invalidation, got %s", m)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)

	bodyStr := rr.Body.String()
	has := func(s string) {
		if !strings.Contains(bodyStr, s) {
			t.Fatalf("metrics missing %q; got:\n%s", s, bodyStr)
		}
	}
	has(`coverage_invalidations_total{op="update",result="ok"}`)
	has(`coverage_cache_results_total{outcome="hit",tier="lru"}`)
	has(`redis_operation_duration_seconds_count{op="delpattern",result="ok"}`)
}
