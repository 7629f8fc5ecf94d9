package repos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"lotbuy/internal/domain"
)

type LotRepo struct{ db sqlx.ExtContext }

func NewLotRepo(db sqlx.ExtContext) *LotRepo { return &LotRepo{db: db} }

type lotRow struct {
	ID          string         `db:"id"`
	BuyerID     string         `db:"buyer_id"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	BudgetMin   float64        `db:"budget_min"`
	BudgetMax   float64        `db:"budget_max"`
	Currency    string         `db:"currency"`
	Category    string         `db:"category"`
	Location    string         `db:"location"`
	ImagesJSON  string         `db:"images_json"`
	Status      string         `db:"status"`
	OfferCount  int            `db:"offer_count"`
	DeadlineAt  sql.NullString `db:"deadline_at"`
	CreatedAt   string         `db:"created_at"`
	UpdatedAt   string         `db:"updated_at"`
	DeletedAt   sql.NullString `db:"deleted_at"`
	Version     int64          `db:"version"`
}

const lotColumns = `id, buyer_id, title, description, budget_min, budget_max, currency,
	category, location, images_json, status, offer_count, deadline_at,
	created_at, updated_at, deleted_at, version`

func (r lotRow) toDomain() domain.Lot {
	return domain.Lot{
		ID:          r.ID,
		BuyerID:     r.BuyerID,
		Title:       r.Title,
		Description: r.Description,
		BudgetMin:   r.BudgetMin,
		BudgetMax:   r.BudgetMax,
		Currency:    r.Currency,
		Category:    r.Category,
		Location:    r.Location,
		Images:      decodeStrings(r.ImagesJSON),
		Status:      domain.LotStatus(r.Status),
		OfferCount:  r.OfferCount,
		DeadlineAt:  parseTSPtr(r.DeadlineAt),
		CreatedAt:   parseTS(r.CreatedAt),
		UpdatedAt:   parseTS(r.UpdatedAt),
		DeletedAt:   parseTSPtr(r.DeletedAt),
		Version:     r.Version,
	}
}

// Get returns a lot that has not been soft-deleted.
func (r *LotRepo) Get(ctx context.Context, id string) (domain.Lot, error) {
	var row lotRow
	err := sqlx.GetContext(ctx, r.db, &row,
		r.db.Rebind(`SELECT `+lotColumns+` FROM lots WHERE id = ? AND deleted_at IS NULL`), id)
	if err != nil {
		return domain.Lot{}, notFound(err, "lot", id)
	}
	return row.toDomain(), nil
}

func (r *LotRepo) Insert(ctx context.Context, l domain.Lot) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  INSERT INTO lots(`+lotColumns+`)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		l.ID, l.BuyerID, l.Title, l.Description, l.BudgetMin, l.BudgetMax, l.Currency,
		l.Category, l.Location, encodeJSON(l.Images), string(l.Status), l.OfferCount, tsPtr(l.DeadlineAt),
		ts(l.CreatedAt), ts(l.UpdatedAt), tsPtr(l.DeletedAt), l.Version)
	if err != nil {
		return fmt.Errorf("insert lot %s: %w", l.ID, err)
	}
	return nil
}

// CompareAndSwap writes next only if the stored version still equals
// expected, bumping the version by one. A lost race yields ErrConflict.
func (r *LotRepo) CompareAndSwap(ctx context.Context, expected int64, next domain.Lot) (domain.Lot, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE lots SET
	    title = ?, description = ?, budget_min = ?, budget_max = ?, currency = ?,
	    category = ?, location = ?, images_json = ?, status = ?, offer_count = ?,
	    deadline_at = ?, updated_at = ?, deleted_at = ?, version = version + 1
	  WHERE id = ? AND version = ?
	`),
		next.Title, next.Description, next.BudgetMin, next.BudgetMax, next.Currency,
		next.Category, next.Location, encodeJSON(next.Images), string(next.Status), next.OfferCount,
		tsPtr(next.DeadlineAt), ts(next.UpdatedAt), tsPtr(next.DeletedAt),
		next.ID, expected)
	if err != nil {
		return domain.Lot{}, fmt.Errorf("update lot %s: %w", next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Lot{}, err
	}
	if n == 0 {
		return domain.Lot{}, domain.Conflictf("lot %s was modified concurrently", next.ID)
	}
	next.Version = expected + 1
	return next, nil
}

// ListExpirable returns active lots whose deadline is before now.
func (r *LotRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Lot, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []lotRow
	err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(`
	  SELECT `+lotColumns+` FROM lots
	  WHERE status = 'active' AND deleted_at IS NULL
	    AND deadline_at IS NOT NULL AND deadline_at < ?
	  ORDER BY deadline_at
	  LIMIT ?
	`), ts(now), limit)
	if err != nil {
		return nil, err
	}
	return lotsFromRows(rows), nil
}

type LotSort string

const (
	SortNewest     LotSort = "newest"
	SortDeadline   LotSort = "deadline"
	SortBudgetHigh LotSort = "budget_high"
	SortBudgetLow  LotSort = "budget_low"
)

type LotFilter struct {
	Status    *domain.LotStatus
	BuyerID   string
	Category  string
	Location  string
	Query     string
	MinBudget *float64
	MaxBudget *float64
	Sort      LotSort
	Limit     int
	Offset    int
}

func (r *LotRepo) List(ctx context.Context, f LotFilter) ([]domain.Lot, error) {
	var (
		clauses = []string{"deleted_at IS NULL"}
		args    []any
	)
	if f.Status != nil {
		clauses = append(clauses, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.BuyerID != "" {
		clauses = append(clauses, "buyer_id = ?")
		args = append(args, f.BuyerID)
	}
	if f.Category != "" {
		clauses = append(clauses, "LOWER(category) = LOWER(?)")
		args = append(args, f.Category)
	}
	if f.Location != "" {
		clauses = append(clauses, `LOWER(location) LIKE LOWER(?) ESCAPE '\'`)
		args = append(args, likePattern(f.Location))
	}
	if f.Query != "" {
		clauses = append(clauses, `(LOWER(title) LIKE LOWER(?) ESCAPE '\' OR LOWER(description) LIKE LOWER(?) ESCAPE '\')`)
		q := likePattern(f.Query)
		args = append(args, q, q)
	}
	// Budget filters select lots whose range overlaps [MinBudget, MaxBudget].
	if f.MinBudget != nil {
		clauses = append(clauses, "budget_max >= ?")
		args = append(args, *f.MinBudget)
	}
	if f.MaxBudget != nil {
		clauses = append(clauses, "budget_min <= ?")
		args = append(args, *f.MaxBudget)
	}

	order := "created_at DESC"
	switch f.Sort {
	case SortDeadline:
		order = "CASE WHEN deadline_at IS NULL THEN 1 ELSE 0 END, deadline_at ASC"
	case SortBudgetHigh:
		order = "budget_max DESC"
	case SortBudgetLow:
		order = "budget_min ASC"
	case SortNewest, "":
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := `SELECT ` + lotColumns + ` FROM lots WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY ` + order + `, id LIMIT ? OFFSET ?`

	var rows []lotRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return lotsFromRows(rows), nil
}

func lotsFromRows(rows []lotRow) []domain.Lot {
	out := make([]domain.Lot, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}
