package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

// incomingWindow bounds the messages counted as incoming.
const incomingWindow = 7 * 24 * time.Hour

// StatsRepo stores the dashboard read model.
type StatsRepo struct{ db sqlx.ExtContext }

func NewStatsRepo(db sqlx.ExtContext) *StatsRepo { return &StatsRepo{db: db} }

type statsRow struct {
	UserID              string `db:"user_id"`
	ActiveLots          int    `db:"active_lots"`
	PendingOffers       int    `db:"pending_offers"`
	ActiveDeals         int    `db:"active_deals"`
	CompletedDeals      int    `db:"completed_deals"`
	OffersMade          int    `db:"offers_made"`
	UnreadNotifications int    `db:"unread_notifications"`
	IncomingMessages    int    `db:"incoming_messages"`
	UpdatedAt           string `db:"updated_at"`
}

// Compute derives a user's dashboard figures from the source tables.
func (r *StatsRepo) Compute(ctx context.Context, userID string, at time.Time) (domain.DashboardStats, error) {
	s := domain.DashboardStats{UserID: userID, UpdatedAt: at}
	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&s.ActiveLots, `SELECT COUNT(*) FROM lots WHERE buyer_id = ? AND status = 'active' AND deleted_at IS NULL`, []any{userID}},
		{&s.PendingOffers, `SELECT COUNT(*) FROM offers o JOIN lots l ON l.id = o.lot_id
		  WHERE l.buyer_id = ? AND l.deleted_at IS NULL AND o.status = 'pending'`, []any{userID}},
		{&s.ActiveDeals, `SELECT COUNT(*) FROM deals WHERE (buyer_id = ? OR seller_id = ?)
		  AND status IN ('awaiting_payment','awaiting_shipment','awaiting_confirmation','in_dispute')`, []any{userID, userID}},
		{&s.CompletedDeals, `SELECT COUNT(*) FROM deals WHERE (buyer_id = ? OR seller_id = ?) AND status = 'completed'`, []any{userID, userID}},
		{&s.OffersMade, `SELECT COUNT(*) FROM offers WHERE seller_id = ?`, []any{userID}},
		{&s.UnreadNotifications, `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, []any{userID}},
		{&s.IncomingMessages, `SELECT COUNT(*) FROM messages m
		  JOIN offers o ON o.id = m.offer_id
		  JOIN lots l ON l.id = o.lot_id
		  WHERE m.sender_id <> ? AND (o.seller_id = ? OR l.buyer_id = ?) AND m.created_at >= ?`,
			[]any{userID, userID, userID, ts(at.Add(-incomingWindow))}},
	}
	for _, c := range counts {
		if err := sqlx.GetContext(ctx, r.db, c.dst, r.db.Rebind(c.query), c.args...); err != nil {
			return domain.DashboardStats{}, err
		}
	}
	return s, nil
}

func (r *StatsRepo) Upsert(ctx context.Context, s domain.DashboardStats) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  INSERT INTO dashboard_stats(user_id, active_lots, pending_offers, active_deals,
	    completed_deals, offers_made, unread_notifications, incoming_messages, updated_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	  ON CONFLICT (user_id) DO UPDATE SET
	    active_lots = excluded.active_lots,
	    pending_offers = excluded.pending_offers,
	    active_deals = excluded.active_deals,
	    completed_deals = excluded.completed_deals,
	    offers_made = excluded.offers_made,
	    unread_notifications = excluded.unread_notifications,
	    incoming_messages = excluded.incoming_messages,
	    updated_at = excluded.updated_at
	`), s.UserID, s.ActiveLots, s.PendingOffers, s.ActiveDeals, s.CompletedDeals,
		s.OffersMade, s.UnreadNotifications, s.IncomingMessages, ts(s.UpdatedAt))
	return err
}

// Get returns the stored projection. ok is false when none exists yet.
func (r *StatsRepo) Get(ctx context.Context, userID string) (s domain.DashboardStats, ok bool, err error) {
	var row statsRow
	err = sqlx.GetContext(ctx, r.db, &row, r.db.Rebind(`
	  SELECT user_id, active_lots, pending_offers, active_deals, completed_deals,
	         offers_made, unread_notifications, incoming_messages, updated_at
	  FROM dashboard_stats WHERE user_id = ?
	`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DashboardStats{}, false, nil
	}
	if err != nil {
		return domain.DashboardStats{}, false, err
	}
	return domain.DashboardStats{
		UserID:              row.UserID,
		ActiveLots:          row.ActiveLots,
		PendingOffers:       row.PendingOffers,
		ActiveDeals:         row.ActiveDeals,
		CompletedDeals:      row.CompletedDeals,
		OffersMade:          row.OffersMade,
		UnreadNotifications: row.UnreadNotifications,
		IncomingMessages:    row.IncomingMessages,
		UpdatedAt:           parseTS(row.UpdatedAt),
	}, true, nil
}
