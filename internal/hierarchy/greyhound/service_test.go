package greyhound

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/catalog/catalogtest"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/pgpc/pgpctest"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (c *mapCache) Get(_ context.Context, k string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[k]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, k string, v []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[k] = v
	return nil
}

var key = catalog.Key{Table: "public.pa", Column: "points"}

func newService(t *testing.T, f *pgpctest.Fake) (*Service, *mapCache, *catalogtest.MemStore) {
	t.Helper()
	st := catalogtest.NewMemStore(entry())
	cat, err := catalog.New(st, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	mc := &mapCache{m: map[string][]byte{}}
	return &Service{
		Catalog: cat,
		Builder: &Builder{Exec: f},
		Cache:   hierarchy.ResultCache{Cache: mc, Name: "test"},
		Depth:   3,
	}, mc, st
}

func TestLODRange_GreyhoundDepthOffset(t *testing.T) {
	s := &Service{Depth: 3}
	if lo, hi := s.LODRange(8, 11); lo != 0 || hi != 2 {
		t.Fatalf("got %d..%d want 0..2", lo, hi)
	}
	// depthEnd past the served depth clamps to Depth-1
	if lo, hi := s.LODRange(9, 20); lo != 1 || hi != 2 {
		t.Fatalf("got %d..%d want 1..2", lo, hi)
	}
}

func TestHierarchy_CachedAfterFirstBuild(t *testing.T) {
	f := fakeFrom(cloud())
	s, mc, _ := newService(t, f)
	req := HierarchyRequest{Bounds: rootBox, DepthBegin: 8, DepthEnd: 10}

	first, err := s.Hierarchy(context.Background(), key, req)
	if err != nil {
		t.Fatal(err)
	}
	calls := len(f.Calls())
	if calls == 0 || len(mc.m) != 1 {
		t.Fatalf("calls=%d cached=%d", calls, len(mc.m))
	}
	second, err := s.Hierarchy(context.Background(), key, req)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) || len(f.Calls()) != calls {
		t.Fatalf("second request hit the database (%d calls)", len(f.Calls())-calls)
	}
	want := `{"n":4,"neu":{"n":1},"swd":{"n":3}}`
	if string(first) != want {
		t.Fatalf("got %s want %s", first, want)
	}
}

func TestHierarchy_UnknownResource(t *testing.T) {
	s, _, _ := newService(t, fakeFrom(cloud()))
	_, err := s.Hierarchy(context.Background(), catalog.Key{Table: "x.y", Column: "z"}, HierarchyRequest{Bounds: rootBox, DepthEnd: 9})
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestRead_StoredFormat(t *testing.T) {
	f := fakeFrom(cloud())
	s, _, _ := newService(t, f)
	out := s.Read(context.Background(), key, ReadRequest{Bounds: rootBox, DepthEnd: 9})

	if len(out) != 4*12+4 {
		t.Fatalf("len=%d", len(out))
	}
	if n := int32(binary.LittleEndian.Uint32(out[len(out)-4:])); n != 4 {
		t.Fatalf("count=%d", n)
	}
	q := f.Calls()[0]
	if q.PCID != 0 || q.Range().Begin != 0 || q.Range().Count != 1 {
		t.Fatalf("level 0 read against stored format: %s", q)
	}
}

func TestRead_NewScaleRegistersOutput(t *testing.T) {
	f := fakeFrom(cloud())
	s, _, st := newService(t, f)
	scale := 0.5
	s.Read(context.Background(), key, ReadRequest{Bounds: rootBox, Depth: 10, Scale: &scale})

	q := f.Calls()[0]
	if q.PCID != 2 {
		t.Fatalf("expected transform to new pcid 2, got %s", q)
	}
	if q.Range().Begin != 5 {
		t.Fatalf("depth 10 is level 2: %s", q)
	}
	e, _ := st.LoadEntry(context.Background(), key.Table, key.Column)
	if len(e.Outputs) != 2 {
		t.Fatalf("outputs=%d", len(e.Outputs))
	}
}

func TestRead_FailureYieldsEmptyPayload(t *testing.T) {
	f := &pgpctest.Fake{PatchFunc: func(pgpc.Query) ([]byte, error) { return nil, errors.New("db down") }}
	s, _, _ := newService(t, f)
	out := s.Read(context.Background(), key, ReadRequest{Bounds: rootBox, DepthEnd: 9})
	if !bytes.Equal(out, []byte{0, 0, 0, 0}) {
		t.Fatalf("out=%v", out)
	}

	// a missing table also degrades to the empty payload
	out = s.Read(context.Background(), catalog.Key{Table: "a.b", Column: "c"}, ReadRequest{Bounds: rootBox, DepthEnd: 9})
	if !bytes.Equal(out, []byte{0, 0, 0, 0}) {
		t.Fatalf("out=%v", out)
	}
}

func TestInfo(t *testing.T) {
	s, _, _ := newService(t, fakeFrom(cloud()))
	info, err := s.Info(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	if info.Type != "octree" || info.BaseDepth != 0 || len(info.Bounds) != 6 || info.Bounds[3] != 8 {
		t.Fatalf("info=%+v", info)
	}
	if len(info.Schema) != 3 {
		t.Fatalf("schema=%v", info.Schema)
	}
}
