package repos

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

type MessageRepo struct{ db sqlx.ExtContext }

func NewMessageRepo(db sqlx.ExtContext) *MessageRepo { return &MessageRepo{db: db} }

type messageRow struct {
	ID            string `db:"id"`
	OfferID       string `db:"offer_id"`
	SenderID      string `db:"sender_id"`
	Body          string `db:"body"`
	AttachmentURL string `db:"attachment_url"`
	CreatedAt     string `db:"created_at"`
}

func (r *MessageRepo) Insert(ctx context.Context, m domain.Message) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  INSERT INTO messages(id, offer_id, sender_id, body, attachment_url, created_at)
	  VALUES (?, ?, ?, ?, ?, ?)
	`), m.ID, m.OfferID, m.SenderID, m.Body, m.AttachmentURL, ts(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListByOffer returns the conversation on one offer, oldest first.
func (r *MessageRepo) ListByOffer(ctx context.Context, offerID string) ([]domain.Message, error) {
	var rows []messageRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  SELECT id, offer_id, sender_id, body, attachment_url, created_at
	  FROM messages WHERE offer_id = ? ORDER BY created_at, id
	`), offerID); err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Message{
			ID:            row.ID,
			OfferID:       row.OfferID,
			SenderID:      row.SenderID,
			Body:          row.Body,
			AttachmentURL: row.AttachmentURL,
			CreatedAt:     parseTS(row.CreatedAt),
		})
	}
	return out, nil
}
