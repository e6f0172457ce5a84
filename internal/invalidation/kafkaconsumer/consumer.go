// Package kafkaconsumer applies catalog invalidation events from a kafka
// topic: dropping or reloading catalog entries and purging the cached
// hierarchies built from them.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/pcstream/internal/cache"
	"github.com/mohammed-shakir/pcstream/internal/cache/keys"
	"github.com/mohammed-shakir/pcstream/internal/catalog"
	obs "github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/invalidation"
	mylog "github.com/mohammed-shakir/pcstream/internal/logger"
)

// Catalog is the part of *catalog.Catalog the consumer drives.
type Catalog interface {
	Invalidate(table, column string)
	Refresh(ctx context.Context) ([]*catalog.Entry, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cat    Catalog
	purger cache.Purger
	seen   *lru.Cache[string, struct{}]
}

// New builds a consumer. purger may be nil when results are not cached.
func New(cfg Config, logger *slog.Logger, cat Catalog, purger cache.Purger) (*Consumer, error) {
	if cat == nil {
		return nil, errors.New("kafkaconsumer: missing catalog")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	seen, err := lru.New[string, struct{}](cfg.DedupeSize)
	if err != nil {
		return nil, fmt.Errorf("kafkaconsumer dedupe: %w", err)
	}
	return &Consumer{cfg: cfg, logger: logger, cat: cat, purger: purger, seen: seen}, nil
}

// Start consumes until ctx is cancelled. Group errors are retried with
// exponential backoff.
func (c *Consumer) Start(ctx context.Context) error {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = mylog.WithComponent(ctx, "kafka_consumer")
	handler := eventClaims{apply: c.ProcessOne}

	c.logger.InfoContext(ctx, "kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	eb := backoff.NewExponentialBackOff()
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	bo := backoff.WithContext(eb, ctx)

	for {
		err := group.Consume(ctx, []string{c.cfg.Topic}, handler)
		if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			c.logger.InfoContext(ctx, "kafka invalidation consumer shutting down")
			return nil
		}
		if err == nil {
			bo.Reset()
			continue
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		c.logger.ErrorContext(ctx, "kafka consumer error",
			"err", err, "brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// ProcessOne applies one message. Undecodable or invalid events are logged
// and skipped; only failures to apply a valid event are returned, so that
// the message is retried.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.ObserveInvalidation("unknown", "rejected", time.Since(start).Seconds())
		c.logger.WarnContext(ctx, "skipping undecodable invalidation event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.ObserveInvalidation("unknown", "rejected", time.Since(start).Seconds())
		c.logger.WarnContext(ctx, "skipping invalid invalidation event",
			"offset", msg.Offset, "op", ev.Op, "err", err)
		return nil
	}

	key := ev.DedupeKey()
	if c.seen.Contains(key) {
		obs.ObserveInvalidation(ev.Op, "duplicate", time.Since(start).Seconds())
		c.logger.DebugContext(ctx, "duplicate invalidation event", "op", ev.Op,
			"table", ev.Table, "column", ev.Column)
		return nil
	}

	purged, err := c.apply(ctx, ev)
	if err != nil {
		obs.ObserveInvalidation(ev.Op, "failed", time.Since(start).Seconds())
		c.logger.ErrorContext(ctx, "invalidation failed", "op", ev.Op,
			"table", ev.Table, "column", ev.Column, "offset", msg.Offset, "err", err)
		return err
	}
	c.seen.Add(key, struct{}{})

	obs.ObserveInvalidation(ev.Op, "applied", time.Since(start).Seconds())
	c.logger.InfoContext(ctx, "invalidation applied", "op", ev.Op,
		"table", ev.Table, "column", ev.Column, "purged_keys", purged)
	return nil
}

func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) (int, error) {
	switch ev.Op {
	case invalidation.OpInvalidate:
		c.cat.Invalidate(ev.Table, ev.Column)
		return c.purge(ctx, ev.Table, ev.Column)
	case invalidation.OpRefresh:
		entries, err := c.cat.Refresh(ctx)
		if err != nil {
			return 0, fmt.Errorf("refresh catalog: %w", err)
		}
		total := 0
		for _, e := range entries {
			n, err := c.purge(ctx, e.Table, e.Column)
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil
	}
	return 0, fmt.Errorf("unsupported op %q", ev.Op)
}

func (c *Consumer) purge(ctx context.Context, table, column string) (int, error) {
	if c.purger == nil {
		return 0, nil
	}
	n, err := c.purger.Purge(ctx, keys.ResourcePattern(table, column))
	if err != nil {
		return n, fmt.Errorf("purge cached results of %s.%s: %w", table, column, err)
	}
	return n, nil
}
