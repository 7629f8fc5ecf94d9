package repos

import (
	"context"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

type NotificationRepo struct{ db sqlx.ExtContext }

func NewNotificationRepo(db sqlx.ExtContext) *NotificationRepo { return &NotificationRepo{db: db} }

type notificationRow struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Type      string `db:"type"`
	Title     string `db:"title"`
	Body      string `db:"body"`
	EntityID  string `db:"entity_id"`
	IsRead    int    `db:"is_read"`
	CreatedAt string `db:"created_at"`
}

// InsertOnce stores n unless the user already has a notification for
// eventKey. It reports whether a row was written.
func (r *NotificationRepo) InsertOnce(ctx context.Context, n domain.Notification, eventKey string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  INSERT INTO notifications(id, user_id, type, title, body, entity_id, event_key, is_read, created_at)
	  VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	  ON CONFLICT (user_id, event_key) DO NOTHING
	`), n.ID, n.UserID, n.Type, n.Title, n.Body, n.EntityID, eventKey, ts(n.CreatedAt))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

func (r *NotificationRepo) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT id, user_id, type, title, body, entity_id, is_read, created_at
	  FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`

	var rows []notificationRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(query), userID, limit); err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Notification{
			ID:        row.ID,
			UserID:    row.UserID,
			Type:      row.Type,
			Title:     row.Title,
			Body:      row.Body,
			EntityID:  row.EntityID,
			Read:      row.IsRead != 0,
			CreatedAt: parseTS(row.CreatedAt),
		})
	}
	return out, nil
}

// MarkRead flags one of the user's notifications as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?
	`), id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFoundf("notification %s not found", id)
	}
	return nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0
	`), userID)
	return err
}

func (r *NotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
	  SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0
	`), userID)
	return n, err
}
