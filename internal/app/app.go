// Package app wires the server components from configuration: database,
// catalog, result cache and the three protocol services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/pcstream/internal/cache"
	"github.com/mohammed-shakir/pcstream/internal/cache/diskcache"
	"github.com/mohammed-shakir/pcstream/internal/cache/redisstore"
	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/core/config"
	"github.com/mohammed-shakir/pcstream/internal/core/health"
	"github.com/mohammed-shakir/pcstream/internal/core/router"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/greyhound"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/itowns"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/tileset"
	"github.com/mohammed-shakir/pcstream/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
)

type App struct {
	DB      *pgpc.DB
	Pool    *pgpc.Pool
	Catalog *catalog.Catalog
	// Cache is nil with CACHE_DRIVER=none.
	Cache  cache.Interface
	Purger cache.Purger

	Greyhound *greyhound.Service
	Tiles     *tileset.Service
	ITowns    *itowns.Service

	ready   map[string]health.Pinger
	closers []func() error
	logger  *slog.Logger
}

// New connects to the database and the configured cache.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	db, err := pgpc.Open(ctx, cfg.PGDSN,
		pgpc.WithPoolSize(cfg.PGPoolSize),
		pgpc.WithQueryTimeout(cfg.PGQueryTimeout),
		pgpc.WithConnectTimeout(cfg.PGConnectTimeout),
		pgpc.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	a := &App{
		DB:      db,
		logger:  logger,
		ready:   map[string]health.Pinger{"postgres": db},
		closers: []func() error{db.Close},
	}

	cat, err := catalog.New(catalog.NewPGStore(db.SQL()), cfg.CatalogSize, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.openCache(ctx, cfg); err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Wire(cfg, cat, db, pgpc.NewPool(db.PoolSize()))
	return a, nil
}

func (a *App) openCache(ctx context.Context, cfg config.Config) error {
	switch cfg.CacheDriver {
	case "disk":
		c, err := diskcache.New(cfg.CacheDir, diskcache.WithTTL(cfg.CacheTTL))
		if err != nil {
			return err
		}
		a.Cache, a.Purger = c, c
		a.closers = append(a.closers, c.Close)
	case "redis":
		c, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithTTL(cfg.CacheTTL))
		if err != nil {
			return err
		}
		a.Cache, a.Purger = c, c
		a.ready["redis"] = c
		a.closers = append(a.closers, c.Close)
	case "none":
	default:
		return fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
	}
	return nil
}

// Wire builds the protocol services over an executor. New calls it with the
// real database; tests pass fakes.
func (a *App) Wire(cfg config.Config, cat *catalog.Catalog, exec pgpc.Executor, pool *pgpc.Pool) {
	a.Catalog, a.Pool = cat, pool
	rc := hierarchy.ResultCache{Cache: a.Cache, Logger: a.logger}
	if a.Cache != nil {
		rc.Name = cfg.CacheDriver
	}

	mode := greyhound.Sequential
	if cfg.GreyhoundParallel {
		mode = greyhound.Parallel
	}
	a.Greyhound = &greyhound.Service{
		Catalog:   cat,
		Builder:   &greyhound.Builder{Exec: exec, Pool: pool, Logger: a.logger},
		Cache:     rc,
		Depth:     cfg.Depth,
		Mode:      mode,
		SmallLeaf: cfg.GreyhoundSmallLeaf,
		Morton:    cfg.UseMorton,
		Logger:    a.logger,
	}
	a.Tiles = &tileset.Service{
		Catalog: cat,
		Builder: &tileset.Builder{Exec: exec, Pool: pool, Logger: a.logger},
		Cache:   rc,
		LODMax:  cfg.ThreeDTilesLODMax,
		BaseURL: cfg.ServerURL + cfg.URLPrefix,
		Morton:  cfg.UseMorton,
		Logger:  a.logger,
	}
	a.ITowns = &itowns.Service{
		Catalog:   cat,
		Exec:      exec,
		Pool:      pool,
		Cache:     rc,
		LODMax:    cfg.ITowns.LODMax,
		HRCDepth:  cfg.ITowns.HRCDepth,
		SmallLeaf: cfg.SmallLeaf,
		Shuffle:   cfg.ITowns.Shuffle,
		Logger:    a.logger,
	}
}

// Handlers returns the HTTP handlers over the wired services.
func (a *App) Handlers(started time.Time) *router.Handlers {
	return &router.Handlers{
		Catalog:   a.Catalog,
		Greyhound: a.Greyhound,
		Tiles:     a.Tiles,
		ITowns:    a.ITowns,
		Logger:    a.logger,
		Started:   started,
	}
}

// Ready lists the dependencies checked by /readyz.
func (a *App) Ready() map[string]health.Pinger { return a.ready }

// Consumer builds the invalidation consumer; purges hit the result cache.
func (a *App) Consumer(cfg config.Config) (*kafkaconsumer.Consumer, error) {
	kc := kafkaconsumer.DefaultConfig()
	kc.Brokers = cfg.Invalidation.BrokerList()
	kc.Topic = cfg.Invalidation.Topic
	kc.GroupID = cfg.Invalidation.GroupID
	return kafkaconsumer.New(kc, a.logger, a.Catalog, a.Purger)
}

// Close releases the cache and the database, in reverse open order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
