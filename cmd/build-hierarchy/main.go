// Command build-hierarchy precomputes hierarchies into the result cache so
// that the first client request does not pay for the build.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/pcstream/internal/app"
	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/core/config"
	"github.com/mohammed-shakir/pcstream/internal/core/model"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/greyhound"
	"github.com/mohammed-shakir/pcstream/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	resource := flag.String("resource", "", "table.column to build (default: every registered resource)")
	tilesetOut := flag.String("tileset", "", "also write the 3D Tiles tileset.json of -resource to this file")
	flag.Parse()

	cfg, cfgErr := config.Load()
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   true,
		Service:   "pcstream",
		Component: "build-hierarchy",
	}, os.Stderr)
	log := logger.NewSlog(&zl)
	if cfgErr != nil {
		log.Error("invalid configuration", "err", cfgErr)
		return 1
	}
	if *tilesetOut != "" && *resource == "" {
		log.Error("-tileset needs -resource")
		return 2
	}
	cacheHierarchies, err := plan(cfg.CacheDriver, *tilesetOut)
	if err != nil {
		log.Error("nothing to build", "err", err)
		return 2
	}
	if !cacheHierarchies {
		log.Warn("CACHE_DRIVER=none: greyhound hierarchies would be discarded, only writing the tileset")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		return 1
	}
	defer func() { _ = a.Close() }()

	var ks []catalog.Key
	if *resource != "" {
		k, err := model.ParseResource(*resource)
		if err != nil {
			log.Error("bad -resource", "resource", *resource, "err", err)
			return 2
		}
		ks = append(ks, k)
	} else {
		entries, err := a.Catalog.Refresh(ctx)
		if err != nil {
			log.Error("list resources", "err", err)
			return 1
		}
		for _, e := range entries {
			ks = append(ks, e.Key)
		}
	}

	failed := 0
	if cacheHierarchies {
		for _, k := range ks {
			if err := buildGreyhound(ctx, a, k, log); err != nil {
				log.Error("greyhound hierarchy", "resource", k.String(), "err", err)
				failed++
			}
		}
	}
	if *tilesetOut != "" {
		if err := writeTileset(ctx, a, ks[0], *tilesetOut); err != nil {
			log.Error("tileset", "resource", ks[0].String(), "err", err)
			failed++
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// plan reports whether greyhound hierarchies are worth building: without a
// result cache they would be thrown away, which is only acceptable when a
// tileset file is still being written.
func plan(cacheDriver, tilesetOut string) (bool, error) {
	if cacheDriver != "none" {
		return true, nil
	}
	if tilesetOut == "" {
		return false, errors.New("CACHE_DRIVER=none and no -tileset: built hierarchies would be discarded")
	}
	return false, nil
}

// buildGreyhound builds the full-depth tree over the table's bounding box,
// which is the request a greyhound client starts with.
func buildGreyhound(ctx context.Context, a *app.App, k catalog.Key, log *slog.Logger) error {
	e, _, err := a.Catalog.Stored(ctx, k.Table, k.Column)
	if err != nil {
		return err
	}
	b, err := a.Greyhound.Hierarchy(ctx, k, greyhound.HierarchyRequest{
		Bounds:     e.BBox,
		DepthBegin: greyhound.BaseDepth,
		DepthEnd:   greyhound.BaseDepth + a.Greyhound.Depth,
	})
	if err != nil {
		return err
	}
	log.Info("greyhound hierarchy cached", "resource", k.String(), "bytes", len(b))
	return nil
}

func writeTileset(ctx context.Context, a *app.App, k catalog.Key, path string) error {
	b, err := a.Tiles.Tileset(ctx, k)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
