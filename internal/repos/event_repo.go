package repos

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

const maxErrorLen = 500

// EventRepo is the transition outbox. Writers append inside their own
// transaction; the dispatcher drains it in seq order.
type EventRepo struct{ db sqlx.ExtContext }

func NewEventRepo(db sqlx.ExtContext) *EventRepo { return &EventRepo{db: db} }

type eventRow struct {
	Seq         int64          `db:"seq"`
	EntityType  string         `db:"entity_type"`
	EntityID    string         `db:"entity_id"`
	OldStatus   string         `db:"old_status"`
	NewStatus   string         `db:"new_status"`
	ActorID     string         `db:"actor_id"`
	LotID       string         `db:"lot_id"`
	UserIDsJSON string         `db:"user_ids_json"`
	Reason      string         `db:"reason"`
	OccurredAt  string         `db:"occurred_at"`
	Dispatched  sql.NullString `db:"dispatched_at"`
	Attempts    int            `db:"attempts"`
	LastError   string         `db:"last_error"`
}

func (r eventRow) toDomain() domain.Event {
	return domain.Event{
		Seq:        r.Seq,
		EntityType: domain.EntityType(r.EntityType),
		EntityID:   r.EntityID,
		OldStatus:  r.OldStatus,
		NewStatus:  r.NewStatus,
		ActorID:    r.ActorID,
		LotID:      r.LotID,
		UserIDs:    decodeStrings(r.UserIDsJSON),
		Reason:     r.Reason,
		OccurredAt: parseTS(r.OccurredAt),
		Attempts:   r.Attempts,
	}
}

func (r *EventRepo) Append(ctx context.Context, events ...domain.Event) error {
	for _, e := range events {
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		  INSERT INTO events(entity_type, entity_id, old_status, new_status, actor_id, lot_id,
		    user_ids_json, reason, occurred_at)
		  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`), string(e.EntityType), e.EntityID, e.OldStatus, e.NewStatus, e.ActorID, e.LotID,
			encodeJSON(e.UserIDs), e.Reason, ts(e.OccurredAt)); err != nil {
			return fmt.Errorf("append event %s: %w", e.Key(), err)
		}
	}
	return nil
}

// Pending returns undispatched events, oldest first.
func (r *EventRepo) Pending(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  SELECT seq, entity_type, entity_id, old_status, new_status, actor_id, lot_id,
	         user_ids_json, reason, occurred_at, dispatched_at, attempts, last_error
	  FROM events
	  WHERE dispatched_at IS NULL
	  ORDER BY seq
	  LIMIT ?
	`), limit); err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListByEntity returns the full transition history of one entity.
func (r *EventRepo) ListByEntity(ctx context.Context, t domain.EntityType, id string) ([]domain.Event, error) {
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  SELECT seq, entity_type, entity_id, old_status, new_status, actor_id, lot_id,
	         user_ids_json, reason, occurred_at, dispatched_at, attempts, last_error
	  FROM events
	  WHERE entity_type = ? AND entity_id = ?
	  ORDER BY seq
	`), string(t), id); err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *EventRepo) MarkDispatched(ctx context.Context, seq int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE events SET dispatched_at = ?, attempts = attempts + 1, last_error = ''
	  WHERE seq = ? AND dispatched_at IS NULL
	`), ts(at), seq)
	return err
}

func (r *EventRepo) RecordFailure(ctx context.Context, seq int64, msg string) error {
	msg = clip(msg, maxErrorLen)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE events SET attempts = attempts + 1, last_error = ? WHERE seq = ?
	`), msg, seq)
	return err
}

// Backlog counts undispatched events.
func (r *EventRepo) Backlog(ctx context.Context) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM events WHERE dispatched_at IS NULL`)
	return n, err
}

// Park gives up on an event: it is marked dispatched but keeps its last
// error for inspection.
func (r *EventRepo) Park(ctx context.Context, seq int64, at time.Time, msg string) error {
	msg = clip(msg, maxErrorLen)
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE events SET dispatched_at = ?, attempts = attempts + 1, last_error = ?
	  WHERE seq = ? AND dispatched_at IS NULL
	`), ts(at), msg, seq)
	return err
}
