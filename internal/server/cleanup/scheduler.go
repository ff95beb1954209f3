// Package cleanup periodically removes expired refresh token records.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
)

const DefaultInterval = 24 * time.Hour

// Purger deletes expired records and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Scheduler struct {
	purger     Purger
	interval   time.Duration
	runOnStart bool
	log        logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

type Option func(*Scheduler)

// WithRunOnStart makes Run purge once before waiting for the first tick.
func WithRunOnStart() Option {
	return func(s *Scheduler) { s.runOnStart = true }
}

func New(p Purger, interval time.Duration, log logging.Logger, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		purger:   p,
		interval: interval,
		log:      log.With("module", "cleanup"),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunOnce performs a single purge. Errors are logged and returned.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.log.Error(ctx, "error purging expired refresh tokens", "error", err)
		return 0, err
	}
	s.log.Info(ctx, "expired refresh tokens purged", "count", n)
	return n, nil
}

// Run purges on every tick until ctx is done or Stop is called. A failed
// purge does not end the loop.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info(ctx, "cleanup scheduler started", "interval", s.interval.String())

	if s.runOnStart {
		_, _ = s.RunOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "cleanup scheduler stopped")
			return
		case <-s.stop:
			s.log.Info(ctx, "cleanup scheduler stopped")
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// Stop ends Run. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
