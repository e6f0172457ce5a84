// Package diskcache stores cached results as zstd compressed files, one per
// key. Writes go to a temporary file that is renamed over the target, so a
// reader sees either the old value or the new one, never a partial file.
package diskcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mohammed-shakir/pcstream/internal/cache"
	"github.com/mohammed-shakir/pcstream/internal/core/observability"
)

const ext = ".zst"

type Cache struct {
	dir string
	ttl time.Duration
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
}

type Option func(*Cache)

// WithTTL makes entries older than d read as misses.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) { c.ttl = d }
}

func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("diskcache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	c := &Cache{dir: dir, enc: enc, dec: dec, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Cache) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("diskcache: invalid key %q", key)
	}
	return filepath.Join(c.dir, key+ext), nil
}

// Get returns (nil, false, nil) when the file is missing or expired.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	p, err := c.path(key)
	if err != nil {
		return nil, false, err
	}
	if c.ttl > 0 {
		st, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
			return nil, false, nil
		}
		if err == nil && c.now().Sub(st.ModTime()) > c.ttl {
			_ = os.Remove(p)
			observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
			return nil, false, nil
		}
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	if err == nil {
		raw, err = c.dec.DecodeAll(raw, nil)
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("diskcache read %q: %w", key, err)
	}
	return raw, true, nil
}

func (c *Cache) Set(_ context.Context, key string, val []byte) error {
	start := time.Now()
	err := c.write(key, val)
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	return err
}

func (c *Cache) write(key string, val []byte) error {
	p, err := c.path(key)
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("diskcache write %q: %w", key, err)
	}
	tmp := f.Name()
	_, err = f.Write(c.enc.EncodeAll(val, nil))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, p)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("diskcache write %q: %w", key, err)
	}
	return nil
}

// Purge removes every entry whose key matches the glob pattern.
func (c *Cache) Purge(_ context.Context, pattern string) (int, error) {
	start := time.Now()
	matches, err := filepath.Glob(filepath.Join(c.dir, pattern+ext))
	if err != nil {
		observability.ObserveCacheOp("purge", err, time.Since(start).Seconds())
		return 0, fmt.Errorf("diskcache purge %q: %w", pattern, err)
	}
	n := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			observability.ObserveCacheOp("purge", err, time.Since(start).Seconds())
			return n, fmt.Errorf("diskcache purge: %w", err)
		}
		n++
	}
	observability.ObserveCacheOp("purge", nil, time.Since(start).Seconds())
	return n, nil
}

func (c *Cache) Close() error {
	c.dec.Close()
	return c.enc.Close()
}

var (
	_ cache.Interface = (*Cache)(nil)
	_ cache.Purger    = (*Cache)(nil)
)
