package repos

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

type DealRepo struct{ db sqlx.ExtContext }

func NewDealRepo(db sqlx.ExtContext) *DealRepo { return &DealRepo{db: db} }

type dealRow struct {
	ID            string         `db:"id"`
	LotID         string         `db:"lot_id"`
	OfferID       string         `db:"offer_id"`
	BuyerID       string         `db:"buyer_id"`
	SellerID      string         `db:"seller_id"`
	Amount        float64        `db:"amount"`
	Currency      string         `db:"currency"`
	Status        string         `db:"status"`
	DisputeReason string         `db:"dispute_reason"`
	CancelReason  string         `db:"cancel_reason"`
	DueAt         sql.NullString `db:"due_at"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
	Version       int64          `db:"version"`
}

type milestoneRow struct {
	DealID      string         `db:"deal_id"`
	Label       string         `db:"label"`
	Position    int            `db:"position"`
	CompletedAt sql.NullString `db:"completed_at"`
}

const dealColumns = `id, lot_id, offer_id, buyer_id, seller_id, amount, currency, status,
	dispute_reason, cancel_reason, due_at, created_at, updated_at, version`

func (r dealRow) toDomain(ms []milestoneRow) domain.Deal {
	d := domain.Deal{
		ID:            r.ID,
		LotID:         r.LotID,
		OfferID:       r.OfferID,
		BuyerID:       r.BuyerID,
		SellerID:      r.SellerID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        domain.DealStatus(r.Status),
		DisputeReason: r.DisputeReason,
		CancelReason:  r.CancelReason,
		DueAt:         parseTSPtr(r.DueAt),
		CreatedAt:     parseTS(r.CreatedAt),
		UpdatedAt:     parseTS(r.UpdatedAt),
		Version:       r.Version,
		Milestones:    make([]domain.Milestone, 0, len(ms)),
	}
	for _, m := range ms {
		l := domain.MilestoneLabel(m.Label)
		d.Milestones = append(d.Milestones, domain.Milestone{
			Label:       l,
			Title:       l.Title(),
			CompletedAt: parseTSPtr(m.CompletedAt),
		})
	}
	return d
}

func (r *DealRepo) Get(ctx context.Context, id string) (domain.Deal, error) {
	var row dealRow
	err := sqlx.GetContext(ctx, r.db, &row,
		r.db.Rebind(`SELECT `+dealColumns+` FROM deals WHERE id = ?`), id)
	if err != nil {
		return domain.Deal{}, notFound(err, "deal", id)
	}
	return r.withMilestones(ctx, row)
}

func (r *DealRepo) GetByOffer(ctx context.Context, offerID string) (domain.Deal, error) {
	var row dealRow
	err := sqlx.GetContext(ctx, r.db, &row,
		r.db.Rebind(`SELECT `+dealColumns+` FROM deals WHERE offer_id = ?`), offerID)
	if err != nil {
		return domain.Deal{}, notFound(err, "deal for offer", offerID)
	}
	return r.withMilestones(ctx, row)
}

func (r *DealRepo) withMilestones(ctx context.Context, row dealRow) (domain.Deal, error) {
	var ms []milestoneRow
	if err := sqlx.SelectContext(ctx, r.db, &ms, r.db.Rebind(`
	  SELECT deal_id, label, position, completed_at
	  FROM deal_milestones WHERE deal_id = ? ORDER BY position
	`), row.ID); err != nil {
		return domain.Deal{}, err
	}
	return row.toDomain(ms), nil
}

// Insert stores a deal and its milestone schema.
func (r *DealRepo) Insert(ctx context.Context, d domain.Deal) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  INSERT INTO deals(`+dealColumns+`)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		d.ID, d.LotID, d.OfferID, d.BuyerID, d.SellerID, d.Amount, d.Currency, string(d.Status),
		d.DisputeReason, d.CancelReason, tsPtr(d.DueAt), ts(d.CreatedAt), ts(d.UpdatedAt), d.Version,
	); err != nil {
		return fmt.Errorf("insert deal %s: %w", d.ID, err)
	}
	for _, m := range d.Milestones {
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		  INSERT INTO deal_milestones(deal_id, label, position, completed_at)
		  VALUES (?, ?, ?, ?)
		`), d.ID, string(m.Label), m.Label.Position(), tsPtr(m.CompletedAt)); err != nil {
			return fmt.Errorf("insert milestone %s/%s: %w", d.ID, m.Label, err)
		}
	}
	return nil
}

// CompareAndSwap persists next (status, reasons and milestone timestamps) if
// the stored version still equals expected.
func (r *DealRepo) CompareAndSwap(ctx context.Context, expected int64, next domain.Deal) (domain.Deal, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE deals SET status = ?, dispute_reason = ?, cancel_reason = ?, updated_at = ?,
	    version = version + 1
	  WHERE id = ? AND version = ?
	`), string(next.Status), next.DisputeReason, next.CancelReason, ts(next.UpdatedAt), next.ID, expected)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("update deal %s: %w", next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Deal{}, err
	}
	if n == 0 {
		return domain.Deal{}, domain.Conflictf("deal %s was modified concurrently", next.ID)
	}
	// The version guard above owns the deal row, so milestone rows can be
	// rewritten without their own check.
	for _, m := range next.Milestones {
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
		  UPDATE deal_milestones SET completed_at = ? WHERE deal_id = ? AND label = ?
		`), tsPtr(m.CompletedAt), next.ID, string(m.Label)); err != nil {
			return domain.Deal{}, fmt.Errorf("update milestone %s/%s: %w", next.ID, m.Label, err)
		}
	}
	next.Version = expected + 1
	return next, nil
}

type DealFilter struct {
	UserID string
	Status *domain.DealStatus
	Limit  int
}

// ListForUser returns deals where the user is buyer or seller, newest first.
func (r *DealRepo) ListForUser(ctx context.Context, f DealFilter) ([]domain.Deal, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + dealColumns + ` FROM deals WHERE (buyer_id = ? OR seller_id = ?)`
	args := []any{f.UserID, f.UserID}
	if f.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	var rows []dealRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]domain.Deal, 0, len(rows))
	for _, row := range rows {
		d, err := r.withMilestones(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
