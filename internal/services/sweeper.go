package services

import (
	"context"
	"time"

	applog "lotbuy/internal/log"
	"lotbuy/internal/repos"
)

const sweepBatch = 200

// Sweeper expires lots past their deadline and prunes idle sessions.
type Sweeper struct {
	Engine     *Engine
	Users      *repos.UserRepo
	Interval   time.Duration
	SessionTTL time.Duration
	Now        func() time.Time
}

func NewSweeper(engine *Engine, users *repos.UserRepo, interval, sessionTTL time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{Engine: engine, Users: users, Interval: interval, SessionTTL: sessionTTL, Now: time.Now}
}

// Run sweeps once at start and then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		if _, _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			applog.Fail("sweeper", "sweep.error", err, nil)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// SweepOnce expires every overdue lot, batch by batch, then drops sessions
// idle for longer than SessionTTL.
func (s *Sweeper) SweepOnce(ctx context.Context) (expired int, pruned int64, err error) {
	for {
		n, err := s.Engine.ExpireLots(ctx, sweepBatch)
		expired += n
		if err != nil {
			return expired, 0, err
		}
		if n < sweepBatch {
			break
		}
	}
	if s.SessionTTL > 0 && s.Users != nil {
		if pruned, err = s.Users.PruneSessions(ctx, s.Now().Add(-s.SessionTTL)); err != nil {
			return expired, 0, err
		}
	}
	if expired > 0 || pruned > 0 {
		applog.Event("sweeper", "sweep.done", map[string]any{"expired": expired, "sessions_pruned": pruned})
	}
	return expired, pruned, nil
}
