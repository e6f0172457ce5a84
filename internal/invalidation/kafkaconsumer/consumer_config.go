package kafkaconsumer

import "time"

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize is how many recent events are remembered to drop
	// redeliveries.
	DedupeSize int
}

func DefaultConfig() Config {
	return Config{
		Brokers:             []string{"localhost:9092"},
		Topic:               "pointcloud-catalog",
		GroupID:             "pcstream",
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: false,
		DedupeSize:          1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.Brokers) == 0 {
		c.Brokers = d.Brokers
	}
	if c.Topic == "" {
		c.Topic = d.Topic
	}
	if c.GroupID == "" {
		c.GroupID = d.GroupID
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = d.Heartbeat
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = d.RebalanceTimeout
	}
	if c.DedupeSize <= 0 {
		c.DedupeSize = d.DedupeSize
	}
	return c
}
