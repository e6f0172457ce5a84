package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/pcstream/internal/catalog"
	"github.com/mohammed-shakir/pcstream/internal/catalog/catalogtest"
	"github.com/mohammed-shakir/pcstream/internal/core/config"
	"github.com/mohammed-shakir/pcstream/internal/core/health"
	"github.com/mohammed-shakir/pcstream/internal/geom"
	"github.com/mohammed-shakir/pcstream/internal/hierarchy/greyhound"
	"github.com/mohammed-shakir/pcstream/internal/pgpc"
	"github.com/mohammed-shakir/pcstream/internal/pgpc/pgpctest"
)

func newApp() *App {
	return &App{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ready:  map[string]health.Pinger{},
	}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	e := &catalog.Entry{
		Key:       catalog.Key{Table: "public.pa", Column: "points"},
		SRID:      4978,
		BBox:      geom.Box{XMax: 8, YMax: 8, ZMax: 8},
		PatchSize: 100,
	}
	cat, err := catalog.New(catalogtest.NewMemStore(e), 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	return cat
}

func TestOpenCache_Drivers(t *testing.T) {
	ctx := context.Background()

	a := newApp()
	if err := a.openCache(ctx, config.Config{CacheDriver: "disk", CacheDir: t.TempDir()}); err != nil {
		t.Fatalf("disk: %v", err)
	}
	if a.Cache == nil || a.Purger == nil {
		t.Fatal("disk cache not wired")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mr.Close)
	a = newApp()
	if err := a.openCache(ctx, config.Config{CacheDriver: "redis", RedisAddr: mr.Addr()}); err != nil {
		t.Fatalf("redis: %v", err)
	}
	if _, ok := a.Ready()["redis"]; !ok {
		t.Fatal("redis missing from readiness checks")
	}
	_ = a.Close()

	a = newApp()
	if err := a.openCache(ctx, config.Config{CacheDriver: "none"}); err != nil || a.Cache != nil {
		t.Fatalf("none: cache=%v err=%v", a.Cache, err)
	}
	if err := a.openCache(ctx, config.Config{CacheDriver: "memcached"}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestWire_ServicesFollowConfig(t *testing.T) {
	a := newApp()
	cfg := config.Config{
		CacheDriver:        "none",
		Depth:              5,
		GreyhoundParallel:  true,
		GreyhoundSmallLeaf: 50,
		SmallLeaf:          1000,
		ThreeDTilesLODMax:  4,
		ITowns:             config.ITownsCfg{LODMax: 9, HRCDepth: 3, Shuffle: true},
		ServerURL:          "http://pc.example",
		URLPrefix:          "/lopocs",
	}
	a.Wire(cfg, testCatalog(t), &pgpctest.Fake{}, pgpc.NewPool(2))

	if a.Greyhound.Mode != greyhound.Parallel || a.Greyhound.Depth != 5 || a.Greyhound.SmallLeaf != 50 {
		t.Fatalf("greyhound=%+v", a.Greyhound)
	}
	if a.Tiles.BaseURL != "http://pc.example/lopocs" || a.Tiles.LODMax != 4 {
		t.Fatalf("tiles base=%q lod=%d", a.Tiles.BaseURL, a.Tiles.LODMax)
	}
	if a.ITowns.HRCDepth != 3 || a.ITowns.SmallLeaf != 1000 || !a.ITowns.Shuffle {
		t.Fatalf("itowns=%+v", a.ITowns)
	}
	if a.Greyhound.Cache.Enabled() || a.Greyhound.Cache.Name != "" {
		t.Fatalf("none driver wired a cache labelled %q", a.Greyhound.Cache.Name)
	}
	if a.Greyhound.Builder.Pool != a.Pool || a.ITowns.Pool != a.Pool {
		t.Fatal("services must share the pool")
	}
}

func TestHandlers_ServeWiredCatalog(t *testing.T) {
	a := newApp()
	a.Wire(config.Config{CacheDriver: "none", Depth: 3}, testCatalog(t), &pgpctest.Fake{}, pgpc.NewPool(1))

	r := chi.NewRouter()
	a.Handlers(time.Now()).Mount(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/infos/sources", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"table":"public.pa"`) {
		t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestConsumer_UsesCachePurger(t *testing.T) {
	a := newApp()
	if err := a.openCache(context.Background(), config.Config{CacheDriver: "disk", CacheDir: t.TempDir()}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Close() })
	a.Wire(config.Config{CacheDriver: "disk", Depth: 3}, testCatalog(t), &pgpctest.Fake{}, pgpc.NewPool(1))

	if !a.Tiles.Cache.Enabled() || a.Tiles.Cache.Name != "disk" {
		t.Fatalf("tiles cache enabled=%v name=%q", a.Tiles.Cache.Enabled(), a.Tiles.Cache.Name)
	}

	c, err := a.Consumer(config.Config{Invalidation: config.InvalidationCfg{Brokers: "k1:9092, k2:9092", Topic: "t"}})
	if err != nil || c == nil {
		t.Fatalf("consumer=%v err=%v", c, err)
	}
}
