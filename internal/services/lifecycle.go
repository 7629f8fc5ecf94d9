package services

import (
	"context"
	"math/rand"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"lotbuy/internal/domain"
	"lotbuy/internal/repos"
)

const (
	maxTitleLen       = 200
	maxTextLen        = 5000
	maxReasonLen      = 1000
	maxImages         = 10
	maxDeliveryOption = 10
)

// LotSpec is the buyer's input for a new lot.
type LotSpec struct {
	Title       string
	Description string
	BudgetMin   float64
	BudgetMax   float64
	Currency    string
	Category    string
	Location    string
	Images      []string
	DeadlineAt  *time.Time
	Draft       bool
}

// LotPatch carries the fields a buyer may edit; nil means unchanged.
type LotPatch struct {
	Title         *string
	Description   *string
	BudgetMin     *float64
	BudgetMax     *float64
	Currency      *string
	Category      *string
	Location      *string
	Images        *[]string
	DeadlineAt    *time.Time
	ClearDeadline bool
}

type OfferSpec struct {
	Price           float64
	Currency        string
	Description     string
	DeliveryOptions []domain.DeliveryOption
	Images          []string
}

// Engine is the only writer of lot, offer and deal status. Every operation
// runs in one transaction, detects concurrent writers through version
// compare-and-swap, and appends the resulting transition events to the
// outbox before committing.
type Engine struct {
	Store         *repos.Store
	PaymentWindow time.Duration
	// Now is the clock; tests replace it.
	Now func() time.Time

	// beforeLotSwap runs inside AcceptOffer after its reads; tests use it to
	// interleave a concurrent writer.
	beforeLotSwap func(ctx context.Context, tx *repos.Tx, lot domain.Lot) error
}

func NewEngine(store *repos.Store, paymentWindow time.Duration) *Engine {
	if paymentWindow <= 0 {
		paymentWindow = 48 * time.Hour
	}
	return &Engine{Store: store, PaymentWindow: paymentWindow, Now: time.Now}
}

// now is truncated to the stored precision so returned values equal what a
// later read yields.
func (e *Engine) now() time.Time {
	clock := e.Now
	if clock == nil {
		clock = time.Now
	}
	return clock().UTC().Truncate(time.Microsecond)
}

// ---- lots ----

func (e *Engine) CreateLot(ctx context.Context, buyerID string, spec LotSpec) (domain.Lot, error) {
	if buyerID == "" {
		return domain.Lot{}, domain.Unauthorizedf("sign in to post a request")
	}
	now := e.now()
	lot := domain.Lot{
		ID:          uuid.NewString(),
		BuyerID:     buyerID,
		Title:       strings.TrimSpace(spec.Title),
		Description: strings.TrimSpace(spec.Description),
		BudgetMin:   spec.BudgetMin,
		BudgetMax:   spec.BudgetMax,
		Currency:    defaultCurrency(spec.Currency),
		Category:    strings.TrimSpace(spec.Category),
		Location:    strings.TrimSpace(spec.Location),
		Images:      cleanURLs(spec.Images),
		Status:      domain.LotActive,
		DeadlineAt:  utcPtr(spec.DeadlineAt),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if spec.Draft {
		lot.Status = domain.LotDraft
	}
	if err := validateLot(lot, now); err != nil {
		return domain.Lot{}, err
	}

	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		if err := tx.Lots.Insert(ctx, lot); err != nil {
			return err
		}
		return tx.Events.Append(ctx, lotEvent(lot, "", string(lot.Status), buyerID, "", now))
	})
	if err != nil {
		return domain.Lot{}, err
	}
	return lot, nil
}

// UpdateLot edits a draft or active lot owned by buyerID.
func (e *Engine) UpdateLot(ctx context.Context, buyerID, lotID string, p LotPatch) (domain.Lot, error) {
	var out domain.Lot
	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		lot, err := ownedLot(ctx, tx, buyerID, lotID)
		if err != nil {
			return err
		}
		if lot.Status != domain.LotDraft && lot.Status != domain.LotActive {
			return domain.InvalidStatef("a %s request can no longer be edited", lot.Status)
		}
		now := e.now()
		next := applyPatch(lot, p)
		next.UpdatedAt = now
		// Offers are priced in the lot's currency.
		if next.Currency != lot.Currency && lot.OfferCount > 0 {
			return domain.InvalidStatef("currency cannot change once a request has offers")
		}
		// An unchanged past deadline must not block unrelated edits.
		check := now
		if p.DeadlineAt == nil && lot.DeadlineAt != nil && lot.DeadlineAt.Before(now) {
			check = *lot.DeadlineAt
		}
		if err := validateLot(next, check); err != nil {
			return err
		}
		out, err = tx.Lots.CompareAndSwap(ctx, lot.Version, next)
		return err
	})
	return out, err
}

// PublishLot moves a draft lot to active.
func (e *Engine) PublishLot(ctx context.Context, buyerID, lotID string) (domain.Lot, error) {
	return e.moveLot(ctx, buyerID, lotID, domain.LotActive, func(l domain.Lot, now time.Time) error {
		if l.DeadlineAt != nil && !l.DeadlineAt.After(now) {
			return domain.Validationf("deadline must be in the future")
		}
		return nil
	})
}

// UnpublishLot returns an active lot to draft. Only lots nobody has bid on
// can be withdrawn from the market this way.
func (e *Engine) UnpublishLot(ctx context.Context, buyerID, lotID string) (domain.Lot, error) {
	return e.moveLot(ctx, buyerID, lotID, domain.LotDraft, func(l domain.Lot, _ time.Time) error {
		if l.OfferCount > 0 {
			return domain.InvalidStatef("request already has offers; close it instead")
		}
		return nil
	})
}

// CloseLot ends an active lot without a deal and declines its pending offers.
func (e *Engine) CloseLot(ctx context.Context, buyerID, lotID string) (domain.Lot, error) {
	return e.moveLot(ctx, buyerID, lotID, domain.LotClosed, nil)
}

func (e *Engine) moveLot(ctx context.Context, buyerID, lotID string, to domain.LotStatus, guard func(domain.Lot, time.Time) error) (domain.Lot, error) {
	var out domain.Lot
	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		lot, err := ownedLot(ctx, tx, buyerID, lotID)
		if err != nil {
			return err
		}
		if !lot.Status.CanTransition(to) {
			return domain.InvalidStatef("cannot move request from %s to %s", lot.Status, to)
		}
		now := e.now()
		if guard != nil {
			if err := guard(lot, now); err != nil {
				return err
			}
		}
		out, err = e.finishLot(ctx, tx, lot, to, buyerID, "", now)
		return err
	})
	return out, err
}

// finishLot swaps the lot to status to and, when the lot leaves the market,
// declines its pending offers.
func (e *Engine) finishLot(ctx context.Context, tx *repos.Tx, lot domain.Lot, to domain.LotStatus, actor, reason string, now time.Time) (domain.Lot, error) {
	next := lot
	next.Status = to
	next.UpdatedAt = now
	saved, err := tx.Lots.CompareAndSwap(ctx, lot.Version, next)
	if err != nil {
		return domain.Lot{}, err
	}
	events := []domain.Event{lotEvent(lot, string(lot.Status), string(to), actor, reason, now)}
	if to == domain.LotClosed || to == domain.LotExpired {
		declined, err := tx.Offers.DeclinePending(ctx, lot.ID, "", now)
		if err != nil {
			return domain.Lot{}, err
		}
		events = append(events, declinedEvents(declined, lot, actor, reason, now)...)
	}
	return saved, tx.Events.Append(ctx, events...)
}

// DeleteLot soft-deletes a lot that never reached a deal. Pending offers are
// declined.
func (e *Engine) DeleteLot(ctx context.Context, buyerID, lotID string) error {
	return e.Store.InTx(ctx, func(tx *repos.Tx) error {
		lot, err := ownedLot(ctx, tx, buyerID, lotID)
		if err != nil {
			return err
		}
		offers, err := tx.Offers.ListByLot(ctx, lot.ID)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if o.Status == domain.OfferAccepted {
				return domain.InvalidStatef("request has an accepted offer and cannot be deleted")
			}
		}
		now := e.now()
		next := lot
		next.UpdatedAt = now
		next.DeletedAt = &now
		if _, err := tx.Lots.CompareAndSwap(ctx, lot.Version, next); err != nil {
			return err
		}
		declined, err := tx.Offers.DeclinePending(ctx, lot.ID, "", now)
		if err != nil {
			return err
		}
		events := []domain.Event{lotEvent(lot, string(lot.Status), domain.StatusDeleted, buyerID, "", now)}
		events = append(events, declinedEvents(declined, lot, buyerID, "request deleted", now)...)
		return tx.Events.Append(ctx, events...)
	})
}

// ExpireLots moves active lots whose deadline has passed to expired. Lots
// that changed underneath the sweep are skipped and picked up next time.
func (e *Engine) ExpireLots(ctx context.Context, limit int) (int, error) {
	now := e.now()
	due, err := e.Store.Lots.ListExpirable(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, candidate := range due {
		done := false
		err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
			lot, err := tx.Lots.Get(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if lot.Status != domain.LotActive || lot.DeadlineAt == nil || !lot.DeadlineAt.Before(now) {
				return nil
			}
			if _, err := e.finishLot(ctx, tx, lot, domain.LotExpired, "", "deadline passed", now); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil && !domain.Retryable(err) {
			return expired, err
		}
		if err == nil && done {
			expired++
		}
	}
	return expired, nil
}

// ---- offers ----

func (e *Engine) SubmitOffer(ctx context.Context, sellerID, lotID string, spec OfferSpec) (domain.Offer, error) {
	if sellerID == "" {
		return domain.Offer{}, domain.Unauthorizedf("sign in to make an offer")
	}
	if err := validateOffer(spec); err != nil {
		return domain.Offer{}, err
	}
	var out domain.Offer
	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		lot, err := tx.Lots.Get(ctx, lotID)
		if err != nil {
			return err
		}
		if lot.BuyerID == sellerID {
			return domain.Forbiddenf("you cannot make an offer on your own request")
		}
		now := e.now()
		if lot.Status != domain.LotActive {
			return domain.InvalidStatef("request is %s and not accepting offers", lot.Status)
		}
		if lot.DeadlineAt != nil && !lot.DeadlineAt.After(now) {
			return domain.InvalidStatef("request deadline has passed")
		}
		currency := lot.Currency
		if c := domain.NormalizeCurrency(spec.Currency); c != "" && c != lot.Currency {
			return domain.Validationf("offer currency %s does not match request currency %s", c, lot.Currency)
		}

		offer := domain.Offer{
			ID:              uuid.NewString(),
			LotID:           lot.ID,
			SellerID:        sellerID,
			Price:           spec.Price,
			Currency:        currency,
			Description:     strings.TrimSpace(spec.Description),
			DeliveryOptions: cleanDelivery(spec.DeliveryOptions),
			Images:          cleanURLs(spec.Images),
			Status:          domain.OfferPending,
			CreatedAt:       now,
			UpdatedAt:       now,
			Version:         1,
		}
		if err := tx.Offers.Insert(ctx, offer); err != nil {
			return err
		}
		// Counting through the lot's version orders submissions against
		// a concurrent accept or close.
		next := lot
		next.OfferCount++
		next.UpdatedAt = now
		if _, err := tx.Lots.CompareAndSwap(ctx, lot.Version, next); err != nil {
			return err
		}
		out = offer
		return tx.Events.Append(ctx, offerEvent(offer, lot, domain.OfferPending, sellerID, "", now))
	})
	return out, err
}

// AcceptOffer closes the lot, accepts the offer, declines its siblings and
// opens the deal in one transaction. The lot's active→closed swap decides
// races between concurrent accepts; the loser gets a conflict.
func (e *Engine) AcceptOffer(ctx context.Context, buyerID, offerID string) (domain.Deal, error) {
	var out domain.Deal
	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		offer, err := tx.Offers.Get(ctx, offerID)
		if err != nil {
			return err
		}
		lot, err := tx.Lots.Get(ctx, offer.LotID)
		if err != nil {
			return err
		}
		if lot.BuyerID != buyerID {
			return domain.Forbiddenf("only the buyer of this request can accept offers")
		}
		if offer.Status != domain.OfferPending {
			return domain.InvalidStatef("offer is already %s", offer.Status)
		}
		if lot.Status != domain.LotActive {
			return domain.InvalidStatef("request is %s", lot.Status)
		}

		if e.beforeLotSwap != nil {
			if err := e.beforeLotSwap(ctx, tx, lot); err != nil {
				return err
			}
		}

		now := e.now()
		closed := lot
		closed.Status = domain.LotClosed
		closed.UpdatedAt = now
		if _, err := tx.Lots.CompareAndSwap(ctx, lot.Version, closed); err != nil {
			return err
		}
		if _, err := tx.Offers.CompareAndSwapStatus(ctx, offer, domain.OfferAccepted, now); err != nil {
			return err
		}
		declined, err := tx.Offers.DeclinePending(ctx, lot.ID, offer.ID, now)
		if err != nil {
			return err
		}

		due := now.Add(e.PaymentWindow)
		deal := domain.Deal{
			ID:         uuid.NewString(),
			LotID:      lot.ID,
			OfferID:    offer.ID,
			BuyerID:    lot.BuyerID,
			SellerID:   offer.SellerID,
			Amount:     offer.Price,
			Currency:   offer.Currency,
			Status:     domain.DealAwaitingPayment,
			Milestones: domain.NewMilestones(now),
			DueAt:      &due,
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    1,
		}
		if err := tx.Deals.Insert(ctx, deal); err != nil {
			return err
		}

		events := []domain.Event{
			lotEvent(lot, string(domain.LotActive), string(domain.LotClosed), buyerID, "offer accepted", now),
			offerEvent(offer, lot, domain.OfferAccepted, buyerID, "", now),
		}
		events = append(events, declinedEvents(declined, lot, buyerID, "another offer was accepted", now)...)
		events = append(events, dealEvent(deal, "", buyerID, "", now))
		if err := tx.Events.Append(ctx, events...); err != nil {
			return err
		}
		out = deal
		return nil
	})
	return out, err
}

// DeclineOffer lets the lot's buyer turn down one pending offer.
func (e *Engine) DeclineOffer(ctx context.Context, buyerID, offerID string) (domain.Offer, error) {
	var out domain.Offer
	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		offer, err := tx.Offers.Get(ctx, offerID)
		if err != nil {
			return err
		}
		lot, err := tx.Lots.Get(ctx, offer.LotID)
		if err != nil {
			return err
		}
		if lot.BuyerID != buyerID {
			return domain.Forbiddenf("only the buyer of this request can decline offers")
		}
		out, err = e.moveOffer(ctx, tx, offer, lot, domain.OfferDeclined, buyerID)
		return err
	})
	return out, err
}

// WithdrawOffer lets a seller pull back their own pending offer.
func (e *Engine) WithdrawOffer(ctx context.Context, sellerID, offerID string) (domain.Offer, error) {
	var out domain.Offer
	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		offer, err := tx.Offers.Get(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.SellerID != sellerID {
			return domain.Forbiddenf("only the seller who made this offer can withdraw it")
		}
		lot, err := tx.Lots.Get(ctx, offer.LotID)
		if err != nil {
			return err
		}
		out, err = e.moveOffer(ctx, tx, offer, lot, domain.OfferWithdrawn, sellerID)
		return err
	})
	return out, err
}

func (e *Engine) moveOffer(ctx context.Context, tx *repos.Tx, offer domain.Offer, lot domain.Lot, to domain.OfferStatus, actor string) (domain.Offer, error) {
	if !offer.Status.CanTransition(to) {
		return domain.Offer{}, domain.InvalidStatef("offer is already %s", offer.Status)
	}
	now := e.now()
	saved, err := tx.Offers.CompareAndSwapStatus(ctx, offer, to, now)
	if err != nil {
		return domain.Offer{}, err
	}
	return saved, tx.Events.Append(ctx, offerEvent(offer, lot, to, actor, "", now))
}

// ---- deals ----

// AdvanceMilestone completes label on behalf of actorID and recomputes the
// deal status from the completed set.
func (e *Engine) AdvanceMilestone(ctx context.Context, actorID, dealID string, label domain.MilestoneLabel) (domain.Deal, error) {
	return e.mutateDeal(ctx, actorID, dealID, func(d domain.Deal, role domain.Role, now time.Time) (domain.Deal, string, error) {
		if !label.Valid() {
			return d, "", domain.Validationf("unknown milestone %q", label)
		}
		if d.Status == domain.DealInDispute {
			return d, "", domain.InvalidStatef("deal is in dispute; milestones are frozen")
		}
		if d.Status.Terminal() {
			return d, "", domain.InvalidStatef("deal is %s", d.Status)
		}
		if want := domain.MilestoneActor(label); want != role {
			if want == domain.RoleNone {
				return d, "", domain.InvalidStatef("%s is completed when the offer is accepted", label)
			}
			return d, "", domain.Forbiddenf("only the %s can complete %s", want, label)
		}

		pos := label.Position()
		var prev *time.Time
		for i := range d.Milestones {
			m := d.Milestones[i]
			switch p := m.Label.Position(); {
			case p < pos:
				if !m.Completed() {
					return d, "", domain.OutOfOrderf("%s must be completed before %s", m.Label, label)
				}
				prev = m.CompletedAt
			case p == pos && m.Completed():
				return d, "", domain.InvalidStatef("%s is already completed", label)
			}
		}

		at := now
		if prev != nil && prev.After(at) {
			at = *prev
		}
		next := d
		next.Milestones = make([]domain.Milestone, len(d.Milestones))
		copy(next.Milestones, d.Milestones)
		for i := range next.Milestones {
			if next.Milestones[i].Label == label {
				t := at
				next.Milestones[i].CompletedAt = &t
			}
		}
		next.Status = domain.DealStatusFor(next.Milestones)
		return next, string(label), nil
	})
}

// OpenDispute freezes a non-terminal deal. Either party may open one.
func (e *Engine) OpenDispute(ctx context.Context, actorID, dealID, reason string) (domain.Deal, error) {
	reason = strings.TrimSpace(reason)
	return e.mutateDeal(ctx, actorID, dealID, func(d domain.Deal, _ domain.Role, _ time.Time) (domain.Deal, string, error) {
		if len(reason) > maxReasonLen {
			return d, "", domain.Validationf("reason is too long")
		}
		if d.Status.Terminal() {
			return d, "", domain.InvalidStatef("deal is %s", d.Status)
		}
		if d.Status == domain.DealInDispute {
			return d, "", domain.InvalidStatef("deal is already in dispute")
		}
		next := d
		next.Status = domain.DealInDispute
		next.DisputeReason = reason
		return next, reason, nil
	})
}

// CancelDeal cancels a deal before payment. The lot stays closed.
func (e *Engine) CancelDeal(ctx context.Context, actorID, dealID, reason string) (domain.Deal, error) {
	reason = strings.TrimSpace(reason)
	return e.mutateDeal(ctx, actorID, dealID, func(d domain.Deal, _ domain.Role, _ time.Time) (domain.Deal, string, error) {
		if len(reason) > maxReasonLen {
			return d, "", domain.Validationf("reason is too long")
		}
		if d.Status != domain.DealAwaitingPayment {
			return d, "", domain.InvalidStatef("deal can only be cancelled before payment (it is %s)", d.Status)
		}
		next := d
		next.Status = domain.DealCancelled
		next.CancelReason = reason
		return next, reason, nil
	})
}

type dealChange func(d domain.Deal, role domain.Role, now time.Time) (next domain.Deal, reason string, err error)

func (e *Engine) mutateDeal(ctx context.Context, actorID, dealID string, change dealChange) (domain.Deal, error) {
	var out domain.Deal
	err := e.Store.InTx(ctx, func(tx *repos.Tx) error {
		d, err := tx.Deals.Get(ctx, dealID)
		if err != nil {
			return err
		}
		role := d.Party(actorID)
		if role == domain.RoleNone {
			return domain.Forbiddenf("you are not a party to this deal")
		}
		now := e.now()
		next, reason, err := change(d, role, now)
		if err != nil {
			return err
		}
		next.UpdatedAt = now
		saved, err := tx.Deals.CompareAndSwap(ctx, d.Version, next)
		if err != nil {
			return err
		}
		if saved.Status != d.Status {
			if err := tx.Events.Append(ctx, dealEvent(saved, string(d.Status), actorID, reason, now)); err != nil {
				return err
			}
		}
		out = saved
		return nil
	})
	return out, err
}

// ---- retry ----

// Retry runs fn until it succeeds, fails with anything but a conflict, or
// attempts are used up. Each attempt must re-read state; fn is expected to be
// a whole engine call.
func Retry[T any](ctx context.Context, attempts int, fn func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; ; i++ {
		v, err := fn(ctx)
		if err == nil || !domain.Retryable(err) || i >= attempts {
			return v, err
		}
		backoff := time.Duration(i)*5*time.Millisecond + time.Duration(rand.Intn(5))*time.Millisecond
		select {
		case <-ctx.Done():
			return v, err
		case <-time.After(backoff):
		}
	}
}

// ---- helpers ----

func ownedLot(ctx context.Context, tx *repos.Tx, buyerID, lotID string) (domain.Lot, error) {
	lot, err := tx.Lots.Get(ctx, lotID)
	if err != nil {
		return domain.Lot{}, err
	}
	if lot.BuyerID != buyerID {
		return domain.Lot{}, domain.Forbiddenf("only the buyer can change this request")
	}
	return lot, nil
}

func applyPatch(l domain.Lot, p LotPatch) domain.Lot {
	if p.Title != nil {
		l.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		l.Description = strings.TrimSpace(*p.Description)
	}
	if p.BudgetMin != nil {
		l.BudgetMin = *p.BudgetMin
	}
	if p.BudgetMax != nil {
		l.BudgetMax = *p.BudgetMax
	}
	if p.Currency != nil {
		l.Currency = defaultCurrency(*p.Currency)
	}
	if p.Category != nil {
		l.Category = strings.TrimSpace(*p.Category)
	}
	if p.Location != nil {
		l.Location = strings.TrimSpace(*p.Location)
	}
	if p.Images != nil {
		l.Images = cleanURLs(*p.Images)
	}
	switch {
	case p.ClearDeadline:
		l.DeadlineAt = nil
	case p.DeadlineAt != nil:
		l.DeadlineAt = utcPtr(p.DeadlineAt)
	}
	return l
}

func validateLot(l domain.Lot, now time.Time) error {
	switch {
	case l.Title == "":
		return domain.Validationf("title is required")
	case len(l.Title) > maxTitleLen:
		return domain.Validationf("title must be at most %d characters", maxTitleLen)
	case len(l.Description) > maxTextLen:
		return domain.Validationf("description is too long")
	case l.BudgetMin < 0 || l.BudgetMax < 0:
		return domain.Validationf("budget cannot be negative")
	case l.BudgetMin > l.BudgetMax:
		return domain.Validationf("budgetMin must not exceed budgetMax")
	case !validCurrency(l.Currency):
		return domain.Validationf("currency must be a 3-letter code")
	case len(l.Images) > maxImages:
		return domain.Validationf("at most %d images", maxImages)
	case l.DeadlineAt != nil && l.DeadlineAt.Before(now):
		return domain.Validationf("deadline must be in the future")
	}
	return nil
}

func validateOffer(s OfferSpec) error {
	switch {
	case s.Price <= 0:
		return domain.Validationf("price must be greater than zero")
	case s.Currency != "" && !validCurrency(domain.NormalizeCurrency(s.Currency)):
		return domain.Validationf("currency must be a 3-letter code")
	case len(s.Description) > maxTextLen:
		return domain.Validationf("description is too long")
	case len(s.DeliveryOptions) > maxDeliveryOption:
		return domain.Validationf("at most %d delivery options", maxDeliveryOption)
	case len(s.Images) > maxImages:
		return domain.Validationf("at most %d images", maxImages)
	}
	for i, d := range s.DeliveryOptions {
		if strings.TrimSpace(d.Type) == "" {
			return domain.Validationf("delivery option %d needs a type", i+1)
		}
		if d.Cost < 0 {
			return domain.Validationf("delivery option %d has a negative cost", i+1)
		}
	}
	return nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func defaultCurrency(c string) string {
	if c = domain.NormalizeCurrency(c); c == "" {
		return "USD"
	}
	return c
}

// cleanURLs drops blanks and anything that is not an absolute http(s) URL
// or a site-relative path. Content is never inspected.
func cleanURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, "/") {
			out = append(out, s)
			continue
		}
		if u, err := url.Parse(s); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanDelivery(in []domain.DeliveryOption) []domain.DeliveryOption {
	out := make([]domain.DeliveryOption, 0, len(in))
	for _, d := range in {
		out = append(out, domain.DeliveryOption{
			Type:      strings.TrimSpace(d.Type),
			Timeframe: strings.TrimSpace(d.Timeframe),
			Cost:      d.Cost,
		})
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}

func lotEvent(l domain.Lot, from, to, actor, reason string, at time.Time) domain.Event {
	return domain.Event{
		EntityType: domain.EntityLot,
		EntityID:   l.ID,
		OldStatus:  from,
		NewStatus:  to,
		ActorID:    actor,
		LotID:      l.ID,
		UserIDs:    users(l.BuyerID),
		Reason:     reason,
		OccurredAt: at,
	}
}

func offerEvent(o domain.Offer, l domain.Lot, to domain.OfferStatus, actor, reason string, at time.Time) domain.Event {
	from := string(o.Status)
	if to == domain.OfferPending {
		from = ""
	}
	return domain.Event{
		EntityType: domain.EntityOffer,
		EntityID:   o.ID,
		OldStatus:  from,
		NewStatus:  string(to),
		ActorID:    actor,
		LotID:      l.ID,
		UserIDs:    users(l.BuyerID, o.SellerID),
		Reason:     reason,
		OccurredAt: at,
	}
}

// declinedEvents describes offers DeclinePending moved out of pending.
func declinedEvents(declined []domain.Offer, l domain.Lot, actor, reason string, at time.Time) []domain.Event {
	out := make([]domain.Event, 0, len(declined))
	for _, o := range declined {
		e := offerEvent(o, l, domain.OfferDeclined, actor, reason, at)
		e.OldStatus = string(domain.OfferPending)
		out = append(out, e)
	}
	return out
}

func dealEvent(d domain.Deal, from, actor, reason string, at time.Time) domain.Event {
	return domain.Event{
		EntityType: domain.EntityDeal,
		EntityID:   d.ID,
		OldStatus:  from,
		NewStatus:  string(d.Status),
		ActorID:    actor,
		LotID:      d.LotID,
		UserIDs:    users(d.BuyerID, d.SellerID),
		Reason:     reason,
		OccurredAt: at,
	}
}

func users(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
