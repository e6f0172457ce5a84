package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/pcstream/internal/cache/keys"
	"github.com/mohammed-shakir/pcstream/internal/cache/redisstore"
	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/invalidation"
)

type fakeCatalog struct {
	mu          sync.Mutex
	invalidated []catalog.Key
	refreshes   int
	failRefresh int
	entries     []*catalog.Entry
}

func (f *fakeCatalog) Invalidate(table, column string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, catalog.Key{Table: table, Column: column})
}

func (f *fakeCatalog) Refresh(context.Context) ([]*catalog.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.failRefresh > 0 {
		f.failRefresh--
		return nil, errors.New("db down")
	}
	return f.entries, nil
}

type fakePurger struct {
	mu       sync.Mutex
	patterns []string
}

func (f *fakePurger) Purge(_ context.Context, pattern string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	return 1, nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "pointcloud-catalog" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

var ts0 = time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC)

func eventBytes(ev invalidation.Event) []byte {
	b, _ := json.Marshal(ev)
	return b
}

func invalidateMsg(off int64, column string, ts time.Time) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "t", Offset: off, Value: eventBytes(invalidation.Event{
		Version: 1, Op: invalidation.OpInvalidate, Table: "public.pa", Column: column, TS: ts,
	})}
}

func newConsumer(t *testing.T, cat Catalog, p *fakePurger) *Consumer {
	t.Helper()
	var c *Consumer
	var err error
	if p == nil {
		c, err = New(Config{}, nil, cat, nil)
	} else {
		c, err = New(Config{}, nil, cat, p)
	}
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNew_RequiresCatalog(t *testing.T) {
	if _, err := New(Config{}, nil, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestInvalidate_DropsEntryAndPurgesResource(t *testing.T) {
	fc, fp := &fakeCatalog{}, &fakePurger{}
	c := newConsumer(t, fc, fp)

	if err := c.ProcessOne(context.Background(), invalidateMsg(1, "points", ts0)); err != nil {
		t.Fatal(err)
	}
	if len(fc.invalidated) != 1 || fc.invalidated[0] != (catalog.Key{Table: "public.pa", Column: "points"}) {
		t.Fatalf("invalidated=%v", fc.invalidated)
	}
	if len(fp.patterns) != 1 || fp.patterns[0] != keys.ResourcePattern("public.pa", "points") {
		t.Fatalf("patterns=%v", fp.patterns)
	}
}

func TestDuplicateEventsAreSkipped(t *testing.T) {
	fc := &fakeCatalog{}
	c := newConsumer(t, fc, nil)
	ctx := context.Background()

	_ = c.ProcessOne(ctx, invalidateMsg(1, "points", ts0))
	_ = c.ProcessOne(ctx, invalidateMsg(2, "points", ts0))
	_ = c.ProcessOne(ctx, invalidateMsg(3, "points", ts0.Add(time.Second)))
	if len(fc.invalidated) != 2 {
		t.Fatalf("applied %d events, want 2", len(fc.invalidated))
	}
}

func TestInvalidMessagesAreSkippedNotRetried(t *testing.T) {
	fc := &fakeCatalog{}
	c := newConsumer(t, fc, nil)
	ctx := context.Background()

	bad := []*sarama.ConsumerMessage{
		{Offset: 1, Value: []byte("{not json")},
		{Offset: 2, Value: eventBytes(invalidation.Event{Version: 1, Op: "drop", TS: ts0})},
	}
	for _, m := range bad {
		if err := c.ProcessOne(ctx, m); err != nil {
			t.Fatalf("offset %d: %v", m.Offset, err)
		}
	}
	if len(fc.invalidated) != 0 || fc.refreshes != 0 {
		t.Fatal("invalid events must not touch the catalog")
	}
}

func TestRefresh_FailureRetriedThenCommittedOnce(t *testing.T) {
	fc := &fakeCatalog{
		failRefresh: 1,
		entries: []*catalog.Entry{
			{Key: catalog.Key{Table: "public.pa", Column: "points"}},
			{Key: catalog.Key{Table: "public.pb", Column: "points"}},
		},
	}
	fp := &fakePurger{}
	c := newConsumer(t, fc, fp)
	ctx := context.Background()
	msg := &sarama.ConsumerMessage{Topic: "t", Offset: 5, Value: eventBytes(invalidation.Event{
		Version: 1, Op: invalidation.OpRefresh, TS: ts0,
	})}

	s := &sess{ctx: ctx}
	g := eventClaims{apply: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected the failed refresh to stop the claim")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message was marked: %v", s.marked)
	}

	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("marked=%v", s.marked)
	}
	if fc.refreshes != 2 || len(fp.patterns) != 2 {
		t.Fatalf("refreshes=%d purges=%v", fc.refreshes, fp.patterns)
	}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCatalog{}
	c := newConsumer(t, fc, nil)

	g := eventClaims{apply: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- invalidateMsg(10, "a", ts0)
	ch <- invalidateMsg(11, "b", ts0)
	close(ch)

	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if fc.invalidated[0].Column != "a" || fc.invalidated[1].Column != "b" {
		t.Fatalf("applied out of order: %v", fc.invalidated)
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	c := newConsumer(t, &fakeCatalog{}, nil)
	g := eventClaims{apply: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- invalidateMsg(1, "a", ts0)
	p0 <- invalidateMsg(2, "b", ts0)
	p1 <- invalidateMsg(1, "c", ts0)
	p1 <- invalidateMsg(2, "d", ts0)
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestIntegration_MiniredisPurge(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	box := geom.Box{XMax: 1, YMax: 1, ZMax: 1}
	stale := keys.Hierarchy("greyhound", "public.pa", "points", 0, 4, box)
	other := keys.Hierarchy("greyhound", "public.pb", "points", 0, 4, box)
	_ = rc.Set(ctx, stale, []byte(`{"n":1}`))
	_ = rc.Set(ctx, other, []byte(`{"n":2}`))

	c, err := New(Config{}, nil, &fakeCatalog{}, rc)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ProcessOne(ctx, invalidateMsg(1, "points", ts0)); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(stale) || !mr.Exists(other) {
		t.Fatalf("stale present=%v other present=%v", mr.Exists(stale), mr.Exists(other))
	}
}

func TestClaim_StopsUnmarkedOnShutdown(t *testing.T) {
	fc := &fakeCatalog{}
	c := newConsumer(t, fc, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &sess{ctx: ctx}
	ch := make(chan *sarama.ConsumerMessage)
	err := eventClaims{apply: c.ProcessOne}.ConsumeClaim(s, &claim{msgs: ch})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if len(s.marked) != 0 || len(fc.invalidated) != 0 {
		t.Fatalf("marked=%v invalidated=%v", s.marked, fc.invalidated)
	}
}
