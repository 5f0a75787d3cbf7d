package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// Coverage entries for different datasets carry their own TTLs; once the
// short-lived one lapses it must neither be served nor counted on eviction.
func TestPerDatasetTTL_ExpiredEntriesVanish(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	entries := []struct {
		key string
		ttl time.Duration
	}{
		{"moc:sdss:full", 10 * time.Minute},
		{"moc:sdss:o6", 10 * time.Minute},
		{"moc:2mass:full", time.Hour},
	}
	for _, e := range entries {
		if err := rc.Set(ctx, e.key, []byte(`{"0":[5]}`), e.ttl); err != nil {
			t.Fatalf("Set %s: %v", e.key, err)
		}
	}
	if got := mr.TTL("moc:2mass:full"); got != time.Hour {
		t.Fatalf("TTL = %v, want 1h", got)
	}

	mr.FastForward(11 * time.Minute)

	if _, ok, err := rc.Get(ctx, "moc:sdss:full"); err != nil || ok {
		t.Fatalf("sdss after expiry: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := rc.Get(ctx, "moc:2mass:full"); !ok {
		t.Fatal("2mass entry expired early")
	}

	n, err := rc.DelPattern(ctx, "moc:sdss:*")
	if err != nil || n != 0 {
		t.Fatalf("DelPattern sdss = (%d, %v), want nothing left to remove", n, err)
	}
	if n, _ := rc.DelPattern(ctx, "moc:2mass:*"); n != 1 {
		t.Fatalf("DelPattern 2mass = %d, want 1", n)
	}
}
