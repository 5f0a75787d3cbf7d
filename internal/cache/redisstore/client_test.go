package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestSetGetDel_CoverageEntries(t *testing.T) {
	rc := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	entries := map[string]string{
		"moc:2mass:full": `{"0":[5]}`,
		"moc:sdss:o3":    "3/1-4",
		"moc:empty:full": "",
	}
	for k, v := range entries {
		if err := rc.Set(ctx, k, []byte(v), 5*time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	for k, want := range entries {
		got, ok, err := rc.Get(ctx, k)
		if err != nil || !ok || string(got) != want {
			t.Fatalf("Get %s = (%q, %v, %v), want %q", k, got, ok, err, want)
		}
	}

	if err := rc.Del(ctx, "moc:2mass:full", "moc:sdss:o3", "never-set"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if err := rc.Del(ctx); err != nil {
		t.Fatalf("Del with no keys: %v", err)
	}
	if _, ok, _ := rc.Get(ctx, "moc:sdss:o3"); ok {
		t.Fatal("deleted key still present")
	}
	if _, ok, _ := rc.Get(ctx, "moc:empty:full"); !ok {
		t.Fatal("untouched key removed")
	}
}

func TestCanceledContext_FailsEveryCommand(t *testing.T) {
	rc := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("Set err = %v", err)
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("Get err = %v", err)
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("Del err = %v", err)
	}
	if _, err := rc.DelPattern(ctx, "moc:*"); err == nil {
		t.Fatalf("DelPattern err = %v", err)
	}
}

func TestGet_MissIsNotAnError(t *testing.T) {
	rc := newMini(t)
	ctx := context.Background()

	v, ok, err := rc.Get(ctx, "absent")
	if err != nil || ok || v != nil {
		t.Fatalf("Get(absent) = %q, %v, %v", v, ok, err)
	}

	if err := rc.Set(ctx, "present", []byte("0/5"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err = rc.Get(ctx, "present")
	if err != nil || !ok || string(v) != "0/5" {
		t.Fatalf("Get(present) = %q, %v, %v", v, ok, err)
	}
}

func TestDelPattern_RemovesOnlyMatching(t *testing.T) {
	rc := newMini(t)
	ctx := context.Background()

	for i := range 600 {
		key := fmt.Sprintf("moc:2mass:o%d:h=1", i)
		if err := rc.Set(ctx, key, []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if err := rc.Set(ctx, "moc:sdss:o3:h=2", []byte("y"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	n, err := rc.DelPattern(ctx, "moc:2mass:*:h=1")
	if err != nil {
		t.Fatalf("DelPattern: %v", err)
	}
	if n != 600 {
		t.Fatalf("removed %d, want 600", n)
	}
	if _, ok, _ := rc.Get(ctx, "moc:sdss:o3:h=2"); !ok {
		t.Fatalf("unrelated key was removed")
	}
}

func TestNew_FailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatalf("expected ping error")
	}
	if _, err := New(ctx, ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
