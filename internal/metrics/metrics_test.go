package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/sky-coverage/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + p.Path())
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	return string(b)
}

func TestBuildInfoGauge(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "1.4.0", Revision: "abc123", GoVersion: "go1.24"}})

	want := `
# HELP app_build_info Build info for this binary (value is always 1).
# TYPE app_build_info gauge
app_build_info{goversion="go1.24",revision="abc123",version="1.4.0"} 1
`
	if err := testutil.GatherAndCompare(p.reg, strings.NewReader(want), "app_build_info"); err != nil {
		t.Fatal(err)
	}
	if n, err := testutil.GatherAndCount(p.reg, "go_goroutines"); err != nil || n != 1 {
		t.Fatalf("go_goroutines count=%d err=%v", n, err)
	}
}

func TestServiceCollectorsOnlyWhenEnabled(t *testing.T) {
	observability.AddPoints(3, 1, 1)

	off := Init(Config{})
	if off.Enabled() || off.Path() != "/metrics" {
		t.Fatalf("enabled=%v path=%q", off.Enabled(), off.Path())
	}
	if n, _ := testutil.GatherAndCount(off.reg, "coverage_points_total"); n != 0 {
		t.Fatalf("disabled provider exported %d point series", n)
	}

	on := Init(Config{Enabled: true, Path: "/internal/metrics"})
	observability.ObserveCoverageOp("intersect", 0.004)
	observability.ObserveHTTP("GET", "/intersect", 200, 0.01)
	observability.IncCache("lru", true)
	observability.ObserveCacheOp("set", errors.New("redis down"), 0.002)
	observability.IncInvalidation("update", nil)

	body := scrape(t, on)
	for _, s := range []string{
		`coverage_points_total{result="inside"}`,
		`coverage_points_total{result="invalid"}`,
		`coverage_operation_duration_seconds_count{op="intersect"}`,
		`http_requests_total{method="GET",route="/intersect",status="200"}`,
		`coverage_cache_results_total{outcome="hit",tier="lru"}`,
		`redis_operation_duration_seconds_count{op="set",result="error"}`,
		`coverage_invalidations_total{op="update",result="ok"}`,
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("scrape missing %s\n%s", s, body)
		}
	}
}

func TestRegisterExtraCollector(t *testing.T) {
	p := Init(Config{})
	datasets := prometheus.NewGauge(prometheus.GaugeOpts{Name: "coverage_datasets", Help: "Registered datasets."})
	p.Register(datasets)
	datasets.Set(4)

	if got := testutil.ToFloat64(datasets); got != 4 {
		t.Fatalf("gauge = %v", got)
	}
	if !strings.Contains(scrape(t, p), "coverage_datasets 4") {
		t.Fatal("extra collector not exported")
	}
}
