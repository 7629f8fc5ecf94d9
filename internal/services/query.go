package services

import (
	"context"
	"math"
	"sort"

	"lotbuy/internal/domain"
	"lotbuy/internal/repos"
)

// QueryService serves read-only views. Viewer roles are always derived from
// stored data.
type QueryService struct {
	Store     *repos.Store
	Projector *Projector
}

func NewQueryService(store *repos.Store, projector *Projector) *QueryService {
	return &QueryService{Store: store, Projector: projector}
}

type LotView struct {
	domain.Lot
	ViewerRole domain.Role `json:"viewerRole"`
}

type OfferScore struct {
	domain.Offer
	Score         int     `json:"score"`
	PriceScore    int     `json:"priceScore"`
	DeliveryScore int     `json:"deliveryScore"`
	OptionsScore  int     `json:"optionsScore"`
	CheapestShip  float64 `json:"cheapestDelivery"`
	Best          bool    `json:"best"`
}

type DashboardView struct {
	Stats         domain.DashboardStats `json:"stats"`
	PendingOffers []domain.Offer        `json:"pendingOffers"`
	RecentDeals   []domain.Deal         `json:"recentDeals"`
	MyLots        []domain.Lot          `json:"myLots"`
	MyOffers      []domain.Offer        `json:"myOffers"`
}

func (q *QueryService) BrowseLots(ctx context.Context, f repos.LotFilter) ([]domain.Lot, error) {
	return q.Store.Lots.List(ctx, f)
}

func (q *QueryService) GetLot(ctx context.Context, viewerID, lotID string) (LotView, error) {
	lot, err := q.Store.Lots.Get(ctx, lotID)
	if err != nil {
		return LotView{}, err
	}
	// Drafts are private to their buyer.
	if lot.Status == domain.LotDraft && lot.BuyerID != viewerID {
		return LotView{}, domain.NotFoundf("lot %s not found", lotID)
	}
	role, err := q.ViewerRole(ctx, viewerID, lot)
	if err != nil {
		return LotView{}, err
	}
	return LotView{Lot: lot, ViewerRole: role}, nil
}

// ViewerRole is buyer for the lot's owner, seller for anyone holding an
// offer on it, none otherwise.
func (q *QueryService) ViewerRole(ctx context.Context, userID string, lot domain.Lot) (domain.Role, error) {
	if userID == "" {
		return domain.RoleNone, nil
	}
	if lot.BuyerID == userID {
		return domain.RoleBuyer, nil
	}
	has, err := q.Store.Offers.HasOffer(ctx, lot.ID, userID)
	if err != nil {
		return domain.RoleNone, err
	}
	if has {
		return domain.RoleSeller, nil
	}
	return domain.RoleNone, nil
}

// ListOffers shows the buyer every offer and anyone else only their own.
func (q *QueryService) ListOffers(ctx context.Context, viewerID, lotID string) ([]domain.Offer, error) {
	lot, err := q.Store.Lots.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}
	offers, err := q.Store.Offers.ListByLot(ctx, lot.ID)
	if err != nil {
		return nil, err
	}
	if lot.BuyerID == viewerID {
		return offers, nil
	}
	mine := make([]domain.Offer, 0, 1)
	for _, o := range offers {
		if o.SellerID == viewerID {
			mine = append(mine, o)
		}
	}
	return mine, nil
}

// CompareOffers ranks a lot's pending offers for its buyer. Price carries
// half the weight: 100 at budgetMin, 0 at or above budgetMax. Cheapest
// delivery and the number of delivery choices share the rest.
func (q *QueryService) CompareOffers(ctx context.Context, buyerID, lotID string) ([]OfferScore, error) {
	lot, err := q.Store.Lots.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.BuyerID != buyerID {
		return nil, domain.Forbiddenf("only the buyer can compare offers")
	}
	offers, err := q.Store.Offers.ListByLot(ctx, lot.ID)
	if err != nil {
		return nil, err
	}
	out := make([]OfferScore, 0, len(offers))
	for _, o := range offers {
		if o.Status != domain.OfferPending && o.Status != domain.OfferAccepted {
			continue
		}
		out = append(out, scoreOffer(lot, o))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > 0 {
		out[0].Best = true
	}
	return out, nil
}

func scoreOffer(lot domain.Lot, o domain.Offer) OfferScore {
	s := OfferScore{Offer: o}

	span := lot.BudgetMax - lot.BudgetMin
	switch {
	case o.Price <= lot.BudgetMin:
		s.PriceScore = 100
	case o.Price >= lot.BudgetMax:
		s.PriceScore = 0
	default:
		s.PriceScore = int(math.Round(100 * (1 - (o.Price-lot.BudgetMin)/span)))
	}

	if len(o.DeliveryOptions) == 0 {
		s.DeliveryScore = 50
	} else {
		cheapest := math.Inf(1)
		for _, d := range o.DeliveryOptions {
			cheapest = math.Min(cheapest, d.Cost)
		}
		s.CheapestShip = cheapest
		// Delivery costing a quarter of the price or more scores zero.
		ratio := cheapest / (0.25 * o.Price)
		s.DeliveryScore = int(math.Round(100 * (1 - math.Min(1, ratio))))
	}
	s.OptionsScore = int(math.Round(100 * math.Min(3, float64(len(o.DeliveryOptions))) / 3))

	s.Score = int(math.Round(float64(2*s.PriceScore+s.DeliveryScore+s.OptionsScore) / 4))
	return s
}

func (q *QueryService) ListDeals(ctx context.Context, userID string, status *domain.DealStatus) ([]domain.Deal, error) {
	return q.Store.Deals.ListForUser(ctx, repos.DealFilter{UserID: userID, Status: status})
}

// GetDeal returns a deal only to its buyer or seller.
func (q *QueryService) GetDeal(ctx context.Context, userID, dealID string) (domain.Deal, error) {
	d, err := q.Store.Deals.Get(ctx, dealID)
	if err != nil {
		return domain.Deal{}, err
	}
	if d.Party(userID) == domain.RoleNone {
		return domain.Deal{}, domain.Forbiddenf("you are not a party to this deal")
	}
	return d, nil
}

// ProfileView is the signed-in user's own page: who they are, their
// dashboard figures and their live requests.
type ProfileView struct {
	*domain.User
	Stats      domain.DashboardStats `json:"stats"`
	ActiveLots []domain.Lot          `json:"activeLots"`
}

func (q *QueryService) Profile(ctx context.Context, u *domain.User) (ProfileView, error) {
	stats, err := q.stats(ctx, u.ID)
	if err != nil {
		return ProfileView{}, err
	}
	active := domain.LotActive
	lots, err := q.Store.Lots.List(ctx, repos.LotFilter{BuyerID: u.ID, Status: &active, Limit: 5})
	if err != nil {
		return ProfileView{}, err
	}
	return ProfileView{User: u, Stats: stats, ActiveLots: lots}, nil
}

// DealHistory lists the deal's recorded transitions, oldest first, to its
// parties.
func (q *QueryService) DealHistory(ctx context.Context, userID, dealID string) ([]domain.Event, error) {
	d, err := q.GetDeal(ctx, userID, dealID)
	if err != nil {
		return nil, err
	}
	return q.Store.Events.ListByEntity(ctx, domain.EntityDeal, d.ID)
}

func (q *QueryService) PendingOffers(ctx context.Context, buyerID string, limit int) ([]domain.Offer, error) {
	return q.Store.Offers.PendingForBuyer(ctx, buyerID, limit)
}

// Dashboard reads the projected stats, building them on first use. The
// unread count is read live since marking notifications read emits no event.
func (q *QueryService) Dashboard(ctx context.Context, userID string) (DashboardView, error) {
	stats, err := q.stats(ctx, userID)
	if err != nil {
		return DashboardView{}, err
	}

	pending, err := q.Store.Offers.PendingForBuyer(ctx, userID, 5)
	if err != nil {
		return DashboardView{}, err
	}
	deals, err := q.Store.Deals.ListForUser(ctx, repos.DealFilter{UserID: userID, Limit: 5})
	if err != nil {
		return DashboardView{}, err
	}
	lots, err := q.Store.Lots.List(ctx, repos.LotFilter{BuyerID: userID, Limit: 5})
	if err != nil {
		return DashboardView{}, err
	}
	mine, err := q.Store.Offers.ListBySeller(ctx, userID, 5)
	if err != nil {
		return DashboardView{}, err
	}
	return DashboardView{Stats: stats, PendingOffers: pending, RecentDeals: deals, MyLots: lots, MyOffers: mine}, nil
}

func (q *QueryService) stats(ctx context.Context, userID string) (domain.DashboardStats, error) {
	stats, ok, err := q.Store.Stats.Get(ctx, userID)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	if !ok {
		if stats, err = q.Projector.Refresh(ctx, userID); err != nil {
			return domain.DashboardStats{}, err
		}
	}
	stats.UnreadNotifications, err = q.Store.Notifications.CountUnread(ctx, userID)
	return stats, err
}
