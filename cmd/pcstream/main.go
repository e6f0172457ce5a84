package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/pcstream/internal/app"
	"github.com/mohammed-shakir/pcstream/internal/core/config"
	"github.com/mohammed-shakir/pcstream/internal/core/server"
	"github.com/mohammed-shakir/pcstream/internal/logger"
	"github.com/mohammed-shakir/pcstream/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, cfgErr := config.Load()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "pcstream",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if cfgErr != nil {
		appLog.Error("invalid configuration", "err", cfgErr)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	appLog.Info("starting pcstream",
		"addr", cfg.Addr,
		"version", Version,
		"prefix", cfg.URLPrefix,
		"cache", cfg.CacheDriver,
		"depth", cfg.Depth)

	a, err := app.New(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("close", "err", err)
		}
	}()

	// warm the catalog; a failure here only means the first requests load it
	if entries, err := a.Catalog.Refresh(ctx); err != nil {
		appLog.Warn("catalog refresh failed", "err", err)
	} else {
		appLog.Info("catalog loaded", "resources", len(entries))
	}

	deps := server.Deps{Handlers: a.Handlers(started), Ready: a.Ready()}
	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   firstNonEmpty(os.Getenv("BUILD_VERSION"), Version),
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		deps.Metrics = p.Handler()
	}

	if cfg.Invalidation.Enabled {
		c, err := a.Consumer(cfg)
		if err != nil {
			appLog.Error("invalidation consumer setup failed", "err", err)
			return 1
		}
		go func() {
			if err := c.Start(ctx); err != nil {
				appLog.Error("invalidation consumer exited", "err", err)
			}
		}()
	}

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
