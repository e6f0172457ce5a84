package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/pcstream/internal/cache/keys"
	"github.com/mohammed-shakir/pcstream/internal/geom"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T, opts ...Option) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGet_HappyPathAndMiss(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte(`{"n":4}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok || string(got) != `{"n":4}` {
		t.Fatalf("Get k1 = %q,%v,%v", got, ok, err)
	}

	got, ok, err = rc.Get(ctx, "missing")
	if err != nil || ok || got != nil {
		t.Fatalf("miss must be (nil,false,nil), got %q,%v,%v", got, ok, err)
	}

	if err := rc.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := rc.Get(ctx, "k1"); ok {
		t.Fatal("k1 still present after Del")
	}
}

func TestTTLExpiry(t *testing.T) {
	rc, mr := newMini(t, WithTTL(2*time.Second))
	ctx := context.Background()

	if err := rc.Set(ctx, "ttl-key", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := rc.Get(ctx, "ttl-key"); !ok {
		t.Fatal("missing before expiry")
	}

	mr.FastForward(3 * time.Second)

	if _, ok, err := rc.Get(ctx, "ttl-key"); ok || err != nil {
		t.Fatalf("expected expiry, ok=%v err=%v", ok, err)
	}
}

func TestNoTTLKeepsValues(t *testing.T) {
	rc, mr := newMini(t)
	if err := rc.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("k"); ttl != 0 {
		t.Fatalf("ttl=%v want none", ttl)
	}
}

func TestPurge_RemovesOnlyMatchingResource(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()
	box := geom.Box{XMax: 1, YMax: 1, ZMax: 1}

	for _, k := range []string{
		keys.Hierarchy("greyhound", "public.pa", "points", 0, 5, box),
		keys.Hierarchy("3dtiles", "public.pa", "points", 0, 5, box),
		keys.Hierarchy("greyhound", "public.pb", "points", 0, 5, box),
	} {
		if err := rc.Set(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}

	n, err := rc.Purge(ctx, keys.ResourcePattern("public.pa", "points"))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("purged %d keys, want 2", n)
	}
	if left := mr.Keys(); len(left) != 1 {
		t.Fatalf("left=%v", left)
	}
}

func TestContextCanceled_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestMetrics_OpsObserved(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	count := func(op string) uint64 {
		mfs, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			t.Fatal(err)
		}
		for _, mf := range mfs {
			if mf.GetName() != "cache_op_duration_seconds" {
				continue
			}
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "op" && l.GetValue() == op {
						return m.GetHistogram().GetSampleCount()
					}
				}
			}
		}
		return 0
	}

	setBefore, getBefore := count("set"), count("get")
	_ = rc.Set(ctx, "m1", []byte("x"))
	_, _, _ = rc.Get(ctx, "m1")
	_, _, _ = rc.Get(ctx, "m2")
	if count("set")-setBefore != 1 || count("get")-getBefore != 2 {
		t.Fatalf("set=%d get=%d", count("set")-setBefore, count("get")-getBefore)
	}
}

func BenchmarkGet(b *testing.B) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	ctx := context.Background()
	rc, err := New(ctx, mr.Addr())
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	defer func() { _ = rc.Close() }()
	if err := rc.Set(ctx, "k", make([]byte, 64<<10)); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	for b.Loop() {
		if _, _, err := rc.Get(ctx, "k"); err != nil {
			b.Fatal(err)
		}
	}
}
