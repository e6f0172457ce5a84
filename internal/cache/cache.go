// Package cache defines the result cache used for built hierarchies.
package cache

import "context"

// Interface is a best-effort byte cache. A miss is (nil, false, nil); values
// are replaced whole, never patched.
type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte) error         { return nil }

// Purger is implemented by caches that can drop every key matching a glob
// (see keys.ResourcePattern).
type Purger interface {
	Purge(ctx context.Context, pattern string) (int, error)
}
