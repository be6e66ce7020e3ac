// Package sweep ages idle sessions on a fixed cadence, independent of any
// connection activity.
package sweep

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warrenwl/chatrelay/internal/model/chat"
	"github.com/warrenwl/chatrelay/internal/store"
)

// Config holds the sweep cadence and aging thresholds.
type Config struct {
	// Interval is the tick cadence.
	Interval time.Duration
	// IdleAfter demotes active sessions to inactive once last-activity is
	// older than this.
	IdleAfter time.Duration
	// CloseAfter closes active or inactive sessions once last-activity is
	// older than this.
	CloseAfter time.Duration
}

// Sweeper runs two idempotent bulk transitions per tick. Ticks are
// independent: a failed tick is logged and abandoned, never retried.
type Sweeper struct {
	store store.Store
	cfg   Config
	now   func() time.Time
}

// New validates the configuration and builds a sweeper. Callers should treat
// an error as "do not schedule" rather than a fatal condition.
func New(st store.Store, cfg Config) (*Sweeper, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", cfg.Interval)
	}
	if cfg.IdleAfter < 0 {
		return nil, fmt.Errorf("idle timeout must be non-negative, got %v", cfg.IdleAfter)
	}
	if cfg.CloseAfter < 0 {
		return nil, fmt.Errorf("close timeout must be non-negative, got %v", cfg.CloseAfter)
	}

	return &Sweeper{
		store: st,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithNow overrides the clock. Test hook.
func (s *Sweeper) WithNow(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run ticks until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[sweep] scheduler running: interval=%v idle=%v close=%v",
		s.cfg.Interval, s.cfg.IdleAfter, s.cfg.CloseAfter)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweep] scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates both aging predicates against a single now snapshot, so a
// session aged past both thresholds closes within one tick. Closed sessions
// are excluded from both predicates; a tick can never regress one.
func (s *Sweeper) Tick(ctx context.Context) {
	now := s.now()

	demoted, err := s.store.SweepStatus(ctx,
		[]chat.Status{chat.StatusActive},
		now.Add(-s.cfg.IdleAfter),
		chat.StatusInactive,
	)
	if err != nil {
		log.Printf("[sweep] tick abandoned: demote inactive: %v", err)
		return
	}

	closed, err := s.store.SweepStatus(ctx,
		[]chat.Status{chat.StatusActive, chat.StatusInactive},
		now.Add(-s.cfg.CloseAfter),
		chat.StatusClosed,
	)
	if err != nil {
		log.Printf("[sweep] tick abandoned: close stale: %v", err)
		return
	}

	if demoted > 0 || closed > 0 {
		log.Printf("[sweep] tick: %d demoted, %d closed", demoted, closed)
	}
}
