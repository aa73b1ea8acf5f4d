package config

import (
	"fmt"
	"time"
)

// QueueConfig tunes the event queue and worker.
type QueueConfig struct {
	// SweepInterval is how often the background sweeper runs.
	SweepInterval time.Duration `yaml:"sweepInterval"`
	// SweepJitter spreads sweeps across processes sharing a database.
	SweepJitter time.Duration `yaml:"sweepJitter"`
	// SweepBatch bounds how many rows one sweep marks expired.
	SweepBatch int `yaml:"sweepBatch"`
	// HandleBuffer is the run handle's event channel capacity. When the
	// buffer is full the worker blocks rather than dropping events.
	HandleBuffer int `yaml:"handleBuffer"`
	// DefaultTTLMs applies to enqueued events when the run request sets
	// no queueTTL. Zero means events never expire.
	DefaultTTLMs int64 `yaml:"defaultTtlMs"`
	// HistoryLimit caps how many messages an LLM call gathers.
	HistoryLimit int `yaml:"historyLimit"`
	// HistoryDepth caps how many ancestor threads history traversal
	// visits.
	HistoryDepth int `yaml:"historyDepth"`
}

// DefaultQueueConfig returns the standard queue tuning.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		SweepInterval: 30 * time.Second,
		SweepJitter:   5 * time.Second,
		SweepBatch:    50,
		HandleBuffer:  64,
		HistoryLimit:  50,
		HistoryDepth:  5,
	}
}

// Validate checks the queue tuning values.
func (c *QueueConfig) Validate() error {
	if c.SweepInterval < 0 {
		return fmt.Errorf("queue.sweepInterval must not be negative")
	}
	if c.SweepBatch < 0 {
		return fmt.Errorf("queue.sweepBatch must not be negative")
	}
	if c.HandleBuffer < 0 {
		return fmt.Errorf("queue.handleBuffer must not be negative")
	}
	if c.DefaultTTLMs < 0 {
		return fmt.Errorf("queue.defaultTtlMs must not be negative")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("queue.historyLimit must not be negative")
	}
	if c.HistoryDepth < 0 {
		return fmt.Errorf("queue.historyDepth must not be negative")
	}
	return nil
}
