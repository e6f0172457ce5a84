// Package pgpctest provides an in-memory pgpc.Executor.
package pgpctest

import (
	"context"
	"sync"
	"time"

	"github.com/mohammed-shakir/pcstream/internal/pgpc"
)

// Fake answers queries through CountFunc and PatchFunc and records every
// query it receives. Nil funcs answer zero / no patch.
type Fake struct {
	CountFunc func(q pgpc.Query) (int64, error)
	PatchFunc func(q pgpc.Query) ([]byte, error)
	// Delay is slept inside every call, to make overlap observable.
	Delay time.Duration

	mu          sync.Mutex
	calls       []pgpc.Query
	inFlight    int
	maxInFlight int
}

func (f *Fake) enter(q pgpc.Query) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
}

func (f *Fake) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *Fake) Count(_ context.Context, q pgpc.Query) (int64, error) {
	f.enter(q)
	defer f.leave()
	if f.CountFunc == nil {
		return 0, nil
	}
	return f.CountFunc(q)
}

func (f *Fake) Patch(_ context.Context, q pgpc.Query) ([]byte, error) {
	f.enter(q)
	defer f.leave()
	if f.PatchFunc == nil {
		return nil, nil
	}
	return f.PatchFunc(q)
}

// Calls returns a copy of the queries seen so far.
func (f *Fake) Calls() []pgpc.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pgpc.Query(nil), f.calls...)
}

// MaxInFlight is the highest number of concurrent calls observed.
func (f *Fake) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}
