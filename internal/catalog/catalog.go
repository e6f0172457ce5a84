package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/patch"
)

// Store is the database side of the catalog.
type Store interface {
	LoadEntry(ctx context.Context, table, column string) (*Entry, error)
	ListResources(ctx context.Context) ([]Key, error)
	// RegisterOutput persists a new output format and returns its pcid.
	RegisterOutput(ctx context.Context, table, column string, out OutputSchema) (int, error)
}

// Catalog memoizes entries. An entry is loaded on first access and kept
// until Invalidate or Refresh drops it, or until the LRU evicts it to stay
// within size. An evicted entry is reloaded from the store on its next
// access; outputs are persisted before they are cached, so a reload never
// loses one.
type Catalog struct {
	store   Store
	logger  *slog.Logger
	entries *lru.Cache[Key, *Entry]

	// serializes output registration so two requests for the same new
	// quantization register it once
	regMu sync.Mutex
}

func New(store Store, size int, logger *slog.Logger) (*Catalog, error) {
	if store == nil {
		return nil, errors.New("catalog: nil store")
	}
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	c, err := lru.New[Key, *Entry](size)
	if err != nil {
		return nil, fmt.Errorf("catalog lru: %w", err)
	}
	return &Catalog{store: store, logger: logger, entries: c}, nil
}

// Get returns the entry for table/column, loading it on first access.
func (c *Catalog) Get(ctx context.Context, table, column string) (*Entry, error) {
	k := Key{Table: table, Column: column}
	if e, ok := c.entries.Get(k); ok {
		return e, nil
	}
	e, err := c.store.LoadEntry(ctx, table, column)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", k, err)
	}
	observability.IncCatalogEvent("load")
	c.entries.Add(k, e)
	c.logger.Debug("catalog entry loaded", "resource", k.String(), "outputs", len(e.Outputs))
	return e, nil
}

// Invalidate drops one entry; the next Get reloads it.
func (c *Catalog) Invalidate(table, column string) {
	observability.IncCatalogEvent("invalidate")
	c.entries.Remove(Key{Table: table, Column: column})
}

// Refresh drops every entry and reloads all registered resources.
func (c *Catalog) Refresh(ctx context.Context) ([]*Entry, error) {
	observability.IncCatalogEvent("refresh")
	c.entries.Purge()
	keys, err := c.store.ListResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	out := make([]*Entry, 0, len(keys))
	for _, k := range keys {
		e, err := c.Get(ctx, k.Table, k.Column)
		if err != nil {
			c.logger.Warn("catalog refresh skipped resource", "resource", k.String(), "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Stored returns the entry and its physical output format.
func (c *Catalog) Stored(ctx context.Context, table, column string) (*Entry, OutputSchema, error) {
	e, err := c.Get(ctx, table, column)
	if err != nil {
		return nil, OutputSchema{}, err
	}
	o, err := e.Stored()
	if err != nil {
		return nil, OutputSchema{}, err
	}
	return e, o, nil
}

// EnsureOutput returns the output matching (scales, offsets, schema),
// registering a new one when none exists. Existing outputs are never
// modified.
func (c *Catalog) EnsureOutput(ctx context.Context, table, column string, scales, offsets [3]float64, s patch.Schema) (OutputSchema, error) {
	e, err := c.Get(ctx, table, column)
	if err != nil {
		return OutputSchema{}, err
	}
	if o, ok := e.FindOutput(scales, offsets, s); ok {
		return o, nil
	}

	c.regMu.Lock()
	defer c.regMu.Unlock()
	// another request may have registered it while we waited
	if e, err = c.Get(ctx, table, column); err != nil {
		return OutputSchema{}, err
	}
	if o, ok := e.FindOutput(scales, offsets, s); ok {
		return o, nil
	}

	o := OutputSchema{Schema: s, Scales: scales, Offsets: offsets}
	pcid, err := c.store.RegisterOutput(ctx, table, column, o)
	if err != nil {
		return OutputSchema{}, fmt.Errorf("register output for %s.%s: %w", table, column, err)
	}
	o.PCID = pcid
	c.entries.Add(e.Key, e.withOutput(o))
	c.logger.Info("registered output schema", "resource", e.Key.String(), "pcid", pcid,
		"scales", scales, "offsets", offsets)
	return o, nil
}

// Len is the number of cached entries.
func (c *Catalog) Len() int { return c.entries.Len() }
