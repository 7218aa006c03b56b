package connmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umigoe/umigoe/pkg/store"
)

// DefaultSweepInterval is how often the background sweep runs.
const DefaultSweepInterval = time.Minute

// SweeperConfig tunes the background TTL sweep.
type SweeperConfig struct {
	// Interval between sweeps. Defaults to DefaultSweepInterval.
	Interval time.Duration
}

// Sweeper periodically removes expired connection records and conversation
// items from storage. Expiry is storage bookkeeping only: sweeping a record
// never terminates a live connection, it just forgets one that already
// stopped renewing.
type Sweeper struct {
	store    store.Sweeper
	interval time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// NewSweeper creates a Sweeper over s.
func NewSweeper(s store.Sweeper, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    s,
		interval: cfg.Interval,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. Call Stop to halt it.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the sweep loop. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Sweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.SweepNow(ctx); err != nil {
				slog.Warn("ttl sweep failed", "error", err)
			}
		}
	}
}

// SweepNow runs a single sweep immediately and returns what it removed.
func (s *Sweeper) SweepNow(ctx context.Context) (store.SweepResult, error) {
	res, err := s.store.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return store.SweepResult{}, err
	}
	if res.Connections > 0 || res.Items > 0 {
		slog.Info("ttl sweep removed expired records",
			"connections", res.Connections,
			"items", res.Items)
	}
	return res, nil
}
