package coveragestore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/sky-coverage/internal/cache/keys"
	"github.com/mohammed-shakir/sky-coverage/internal/cache/redisstore"
	"github.com/mohammed-shakir/sky-coverage/internal/moc"
)

func newMini(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	return cli, mr
}

func sample(t *testing.T) *moc.MOC {
	t.Helper()
	m, err := moc.New(moc.FrameGalactic, 6, moc.Cell{Order: 0, Index: 5}, moc.Cell{Order: 6, Index: 17})
	if err != nil {
		t.Fatalf("moc.New: %v", err)
	}
	return m
}

func TestRedisCoverageStore_RoundTrip_HitsAndMisses(t *testing.T) {
	cli, mr := newMini(t)
	ttls := map[string]time.Duration{"2mass": 2 * time.Minute}
	st := NewRedisStore(cli, func(ds string) time.Duration {
		if d, ok := ttls[ds]; ok {
			return d
		}
		return 10 * time.Minute
	}, time.Second)

	ctx := context.Background()
	want := sample(t)

	if _, ok, err := st.Get(ctx, "2mass", 6); err != nil || ok {
		t.Fatalf("empty store Get: ok=%v err=%v", ok, err)
	}
	if err := st.Put(ctx, "2mass", 6, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := st.Get(ctx, "2mass", 6)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.Equal(want) || got.Frame() != moc.FrameGalactic || got.MaxOrder() != 6 {
		t.Fatalf("round trip mismatch: %s (%s)", got, got.Frame())
	}
	if _, ok, _ := st.Get(ctx, "2mass", 5); ok {
		t.Fatalf("different order must miss")
	}

	if ttl := mr.TTL(keys.CoverageKey("2mass", 6)); ttl != 2*time.Minute {
		t.Fatalf("ttl = %v, want 2m", ttl)
	}
	mr.FastForward(3 * time.Minute)
	if _, ok, _ := st.Get(ctx, "2mass", 6); ok {
		t.Fatalf("expected expiry")
	}
}

func TestRedisCoverageStore_EvictAllOrders(t *testing.T) {
	cli, _ := newMini(t)
	st := NewRedisStore(cli, nil, 0)
	ctx := context.Background()
	m := sample(t)

	for _, o := range []int{-1, 6, 8} {
		if err := st.Put(ctx, "CDS/P/SDSS9/g", o, m); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := st.Put(ctx, "CDS/P/2MASS/H", 6, m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := st.Evict(ctx, "CDS/P/SDSS9/g"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	for _, o := range []int{-1, 6, 8} {
		if _, ok, _ := st.Get(ctx, "CDS/P/SDSS9/g", o); ok {
			t.Fatalf("order %d survived eviction", o)
		}
	}
	if _, ok, _ := st.Get(ctx, "CDS/P/2MASS/H", 6); !ok {
		t.Fatalf("other dataset evicted")
	}
}

func TestRedisCoverageStore_CorruptEntryIsDropped(t *testing.T) {
	cli, mr := newMini(t)
	st := NewRedisStore(cli, nil, time.Second)
	ctx := context.Background()

	k := keys.CoverageKey("broken", 3)
	if err := mr.Set(k, "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := st.Get(ctx, "broken", 3); ok || err != nil {
		t.Fatalf("corrupt envelope: ok=%v err=%v", ok, err)
	}
	if mr.Exists(k) {
		t.Fatalf("corrupt entry not removed")
	}

	if err := mr.Set(k, `{"v":1,"frame":"icrs","moc":{"0":[5],"1":[20]}}`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := st.Get(ctx, "broken", 3); ok || err == nil {
		t.Fatalf("malformed payload: ok=%v err=%v", ok, err)
	}
}
