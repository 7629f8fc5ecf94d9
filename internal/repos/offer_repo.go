package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

type OfferRepo struct{ db sqlx.ExtContext }

func NewOfferRepo(db sqlx.ExtContext) *OfferRepo { return &OfferRepo{db: db} }

type offerRow struct {
	ID           string  `db:"id"`
	LotID        string  `db:"lot_id"`
	SellerID     string  `db:"seller_id"`
	Price        float64 `db:"price"`
	Currency     string  `db:"currency"`
	Description  string  `db:"description"`
	DeliveryJSON string  `db:"delivery_json"`
	ImagesJSON   string  `db:"images_json"`
	Status       string  `db:"status"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	Version      int64   `db:"version"`
}

const offerColumns = `id, lot_id, seller_id, price, currency, description,
	delivery_json, images_json, status, created_at, updated_at, version`

func (r offerRow) toDomain() domain.Offer {
	var opts []domain.DeliveryOption
	_ = json.Unmarshal([]byte(r.DeliveryJSON), &opts)
	if opts == nil {
		opts = []domain.DeliveryOption{}
	}
	return domain.Offer{
		ID:              r.ID,
		LotID:           r.LotID,
		SellerID:        r.SellerID,
		Price:           r.Price,
		Currency:        r.Currency,
		Description:     r.Description,
		DeliveryOptions: opts,
		Images:          decodeStrings(r.ImagesJSON),
		Status:          domain.OfferStatus(r.Status),
		CreatedAt:       parseTS(r.CreatedAt),
		UpdatedAt:       parseTS(r.UpdatedAt),
		Version:         r.Version,
	}
}

func (r *OfferRepo) Get(ctx context.Context, id string) (domain.Offer, error) {
	var row offerRow
	err := sqlx.GetContext(ctx, r.db, &row,
		r.db.Rebind(`SELECT `+offerColumns+` FROM offers WHERE id = ?`), id)
	if err != nil {
		return domain.Offer{}, notFound(err, "offer", id)
	}
	return row.toDomain(), nil
}

func (r *OfferRepo) Insert(ctx context.Context, o domain.Offer) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  INSERT INTO offers(`+offerColumns+`)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		o.ID, o.LotID, o.SellerID, o.Price, o.Currency, o.Description,
		encodeJSON(o.DeliveryOptions), encodeJSON(o.Images), string(o.Status),
		ts(o.CreatedAt), ts(o.UpdatedAt), o.Version)
	if err != nil {
		return fmt.Errorf("insert offer %s: %w", o.ID, err)
	}
	return nil
}

// CompareAndSwapStatus moves an offer from one status to another, guarded by
// both the version and the expected current status.
func (r *OfferRepo) CompareAndSwapStatus(ctx context.Context, o domain.Offer, to domain.OfferStatus, at time.Time) (domain.Offer, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE offers SET status = ?, updated_at = ?, version = version + 1
	  WHERE id = ? AND version = ? AND status = ?
	`), string(to), ts(at), o.ID, o.Version, string(o.Status))
	if err != nil {
		return domain.Offer{}, fmt.Errorf("update offer %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Offer{}, err
	}
	if n == 0 {
		return domain.Offer{}, domain.Conflictf("offer %s was modified concurrently", o.ID)
	}
	o.Status = to
	o.UpdatedAt = at
	o.Version++
	return o, nil
}

// DeclinePending declines every pending offer of a lot except exceptID in one
// statement and returns exactly the offers it changed, in their new state and
// in submission order. An offer withdrawn concurrently is not among them.
func (r *OfferRepo) DeclinePending(ctx context.Context, lotID, exceptID string, at time.Time) ([]domain.Offer, error) {
	var rows []offerRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  UPDATE offers SET status = 'declined', updated_at = ?, version = version + 1
	  WHERE lot_id = ? AND status = 'pending' AND id <> ?
	  RETURNING `+offerColumns), ts(at), lotID, exceptID); err != nil {
		return nil, fmt.Errorf("decline offers of lot %s: %w", lotID, err)
	}
	out := offersFromRows(rows)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *OfferRepo) ListByLot(ctx context.Context, lotID string) ([]domain.Offer, error) {
	var rows []offerRow
	err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  SELECT `+offerColumns+` FROM offers WHERE lot_id = ? ORDER BY created_at DESC, id
	`), lotID)
	if err != nil {
		return nil, err
	}
	return offersFromRows(rows), nil
}

// ListBySeller lists the offers a seller has made, newest first.
func (r *OfferRepo) ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Offer, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []offerRow
	err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  SELECT `+offerColumns+` FROM offers WHERE seller_id = ? ORDER BY created_at DESC, id LIMIT ?
	`), sellerID, limit)
	if err != nil {
		return nil, err
	}
	return offersFromRows(rows), nil
}

// PendingForBuyer lists pending offers on the buyer's live lots, newest first.
func (r *OfferRepo) PendingForBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Offer, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []offerRow
	err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  SELECT o.id, o.lot_id, o.seller_id, o.price, o.currency, o.description,
	         o.delivery_json, o.images_json, o.status, o.created_at, o.updated_at, o.version
	  FROM offers o
	  JOIN lots l ON l.id = o.lot_id
	  WHERE l.buyer_id = ? AND l.deleted_at IS NULL AND o.status = 'pending'
	  ORDER BY o.created_at DESC, o.id
	  LIMIT ?
	`), buyerID, limit)
	if err != nil {
		return nil, err
	}
	return offersFromRows(rows), nil
}

// HasOffer reports whether sellerID has any offer on lotID.
func (r *OfferRepo) HasOffer(ctx context.Context, lotID, sellerID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, r.db.Rebind(`
	  SELECT COUNT(*) FROM offers WHERE lot_id = ? AND seller_id = ?
	`), lotID, sellerID)
	return n > 0, err
}

func offersFromRows(rows []offerRow) []domain.Offer {
	out := make([]domain.Offer, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
