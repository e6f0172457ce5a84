// Package kafkaproducer publishes catalog invalidation events, typically
// right after a loader has rewritten a point cloud table.
package kafkaproducer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/pcstream/internal/core/observability"
	"github.com/mohammed-shakir/pcstream/internal/invalidation"
)

type Publisher struct {
	topic  string
	prod   sarama.SyncProducer
	logger *slog.Logger
	now    func() time.Time
}

// New dials the brokers with a synchronous producer.
func New(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafkaproducer: brokers and topic are required")
	}
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkaproducer: create producer: %w", err)
	}
	return NewWithProducer(prod, topic, logger), nil
}

// NewWithProducer wraps an existing producer.
func NewWithProducer(prod sarama.SyncProducer, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{topic: topic, prod: prod, logger: logger, now: time.Now}
}

// Invalidate asks every consumer to drop table.column and its cached results.
func (p *Publisher) Invalidate(table, column string) error {
	return p.Publish(invalidation.Event{Op: invalidation.OpInvalidate, Table: table, Column: column})
}

// Refresh asks every consumer to reload the whole catalog.
func (p *Publisher) Refresh() error {
	return p.Publish(invalidation.Event{Op: invalidation.OpRefresh})
}

// Publish fills Version and TS when unset, validates and sends the event.
// Events for one resource share a partition key so they stay ordered.
func (p *Publisher) Publish(ev invalidation.Event) error {
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.TS.IsZero() {
		ev.TS = p.now().UTC()
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("kafkaproducer: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{Topic: p.topic, Value: sarama.ByteEncoder(b)}
	if ev.Table != "" {
		msg.Key = sarama.StringEncoder(ev.Table + "." + ev.Column)
	}
	part, off, err := p.prod.SendMessage(msg)
	if err != nil {
		obs.IncCatalogEvent("publish_error")
		return fmt.Errorf("kafkaproducer: send: %w", err)
	}
	obs.IncCatalogEvent("publish")
	p.logger.Info("invalidation event published",
		"op", ev.Op, "table", ev.Table, "column", ev.Column, "partition", part, "offset", off)
	return nil
}

func (p *Publisher) Close() error { return p.prod.Close() }
