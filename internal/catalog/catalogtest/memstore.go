// Package catalogtest provides an in-memory catalog.Store.
package catalogtest

import (
	"context"
	"sort"
	"sync"

	"github.com/mohammed-shakir/pcstream/internal/catalog"
)

// MemStore keeps entries in a map. Registered outputs get increasing pcids
// starting after the highest one seen.
type MemStore struct {
	mu      sync.Mutex
	entries map[catalog.Key]*catalog.Entry
	loads   int
	maxPCID int
}

func NewMemStore(entries ...*catalog.Entry) *MemStore {
	s := &MemStore{entries: map[catalog.Key]*catalog.Entry{}}
	for _, e := range entries {
		s.Put(e)
	}
	return s
}

func (s *MemStore) Put(e *catalog.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range e.Outputs {
		s.maxPCID = max(s.maxPCID, o.PCID)
	}
	s.entries[e.Key] = clone(e)
}

func (s *MemStore) LoadEntry(_ context.Context, table, column string) (*catalog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	e, ok := s.entries[catalog.Key{Table: table, Column: column}]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return clone(e), nil
}

func (s *MemStore) ListResources(context.Context) ([]catalog.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]catalog.Key, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *MemStore) RegisterOutput(_ context.Context, table, column string, o catalog.OutputSchema) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[catalog.Key{Table: table, Column: column}]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	s.maxPCID++
	o.PCID = s.maxPCID
	e.Outputs = append(e.Outputs, o)
	return o.PCID, nil
}

// Loads is the number of LoadEntry calls.
func (s *MemStore) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func clone(e *catalog.Entry) *catalog.Entry {
	cp := *e
	cp.Outputs = append([]catalog.OutputSchema(nil), e.Outputs...)
	return &cp
}

var _ catalog.Store = (*MemStore)(nil)
