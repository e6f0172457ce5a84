// Command invalidate publishes a catalog invalidation event to the topic
// the servers consume, e.g. after reloading a table.
package main

import (
	"flag"
	"os"

	"github.com/mohammed-shakir/pcstream/internal/core/config"
	"github.com/mohammed-shakir/pcstream/internal/core/model"
	"github.com/mohammed-shakir/pcstream/internal/invalidation/kafkaproducer"
	"github.com/mohammed-shakir/pcstream/internal/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	resource := flag.String("resource", "", "table.column to invalidate; empty reloads the whole catalog")
	flag.Parse()

	cfg := config.FromEnv()
	zl := logger.Build(logger.Config{Level: cfg.LogLevel, Console: true, Service: "pcstream", Component: "invalidate"}, os.Stderr)
	log := logger.NewSlog(&zl)

	p, err := kafkaproducer.New(cfg.Invalidation.BrokerList(), cfg.Invalidation.Topic, log)
	if err != nil {
		log.Error("producer", "err", err)
		return 1
	}
	defer func() { _ = p.Close() }()

	if *resource == "" {
		err = p.Refresh()
	} else {
		k, perr := model.ParseResource(*resource)
		if perr != nil {
			log.Error("bad -resource", "resource", *resource, "err", perr)
			return 2
		}
		err = p.Invalidate(k.Table, k.Column)
	}
	if err != nil {
		log.Error("publish failed", "err", err)
		return 1
	}
	return 0
}
