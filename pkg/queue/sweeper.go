package queue

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// SweeperConfig tunes the background expiry sweeper.
type SweeperConfig struct {
	// Interval between sweeps.
	Interval time.Duration `yaml:"interval"`
	// IntervalJitter spreads sweeps across processes sharing a database.
	IntervalJitter time.Duration `yaml:"intervalJitter"`
	// Batch bounds how many rows one sweep marks expired.
	Batch int `yaml:"batch"`
}

// DefaultSweeperConfig returns the standard sweeper tuning.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:       30 * time.Second,
		IntervalJitter: 5 * time.Second,
		Batch:          DefaultSweepBatch,
	}
}

// Sweeper periodically marks long-expired pending events so they never
// linger past their deadline even on idle threads. Dequeue already skips
// expired rows; the sweeper is the backstop that keeps the table honest.
type Sweeper struct {
	ops    *Ops
	config SweeperConfig
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper over the queue operations.
func NewSweeper(ops *Ops, config SweeperConfig) *Sweeper {
	if config.Interval <= 0 {
		config = DefaultSweeperConfig()
	}
	return &Sweeper{
		ops:    ops,
		config: config,
		logger: slog.With("component", "sweeper"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("Sweeper started", "interval", s.config.Interval, "batch", s.config.Batch)
}

// Stop signals the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	for {
		s.sleep(s.interval())
		select {
		case <-s.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		swept, err := s.ops.SweepExpired(ctx, s.config.Batch)
		cancel()
		if err != nil {
			s.logger.Warn("Expiry sweep failed", "error", err)
			continue
		}
		if swept > 0 {
			s.logger.Info("Expired events swept", "count", swept)
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (s *Sweeper) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stopCh:
	}
}

// interval returns the sweep period with jitter applied.
// Range: [base - jitter, base + jitter].
func (s *Sweeper) interval() time.Duration {
	base := s.config.Interval
	jitter := s.config.IntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
