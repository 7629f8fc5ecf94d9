package services

import (
	"context"
	"time"

	"lotbuy/internal/domain"
	"lotbuy/internal/repos"
)

// Projector keeps the dashboard_stats read model current. It recomputes the
// whole row for every user an event names, so replays converge.
type Projector struct {
	Stats *repos.StatsRepo
	Now   func() time.Time
}

func NewProjector(stats *repos.StatsRepo) *Projector {
	return &Projector{Stats: stats, Now: time.Now}
}

func (p *Projector) Name() string { return "projection" }

func (p *Projector) Deliver(ctx context.Context, e domain.Event) error {
	for _, uid := range e.UserIDs {
		if _, err := p.Refresh(ctx, uid); err != nil {
			return err
		}
	}
	return nil
}

// Refresh recomputes and stores one user's stats.
func (p *Projector) Refresh(ctx context.Context, userID string) (domain.DashboardStats, error) {
	s, err := p.Stats.Compute(ctx, userID, p.Now().UTC())
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return s, p.Stats.Upsert(ctx, s)
}
