package domain

import (
	"strings"
	"time"
)

// Lot is a buyer's request: what they want and what they will pay.
type Lot struct {
	ID          string     `json:"id"`
	BuyerID     string     `json:"buyerId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	BudgetMin   float64    `json:"budgetMin"`
	BudgetMax   float64    `json:"budgetMax"`
	Currency    string     `json:"currency"`
	Category    string     `json:"category,omitempty"`
	Location    string     `json:"location,omitempty"`
	Images      []string   `json:"images,omitempty"`
	Status      LotStatus  `json:"status"`
	OfferCount  int        `json:"offerCount"`
	DeadlineAt  *time.Time `json:"deadlineAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"-"`
	Version     int64      `json:"version"`
}

func (l Lot) Deleted() bool { return l.DeletedAt != nil }

type DeliveryOption struct {
	Type      string  `json:"type"`
	Timeframe string  `json:"timeframe"`
	Cost      float64 `json:"cost"`
}

// Offer is a seller's bid against a lot.
type Offer struct {
	ID              string           `json:"id"`
	LotID           string           `json:"lotId"`
	SellerID        string           `json:"sellerId"`
	Price           float64          `json:"price"`
	Currency        string           `json:"currency"`
	Description     string           `json:"description,omitempty"`
	DeliveryOptions []DeliveryOption `json:"deliveryOptions"`
	Images          []string         `json:"images,omitempty"`
	Status          OfferStatus      `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Version         int64            `json:"version"`
}

type Milestone struct {
	Label       MilestoneLabel `json:"label"`
	Title       string         `json:"title"`
	CompletedAt *time.Time     `json:"completedAt"`
}

func (m Milestone) Completed() bool { return m.CompletedAt != nil }

// Deal is created when an offer is accepted and tracks fulfillment.
type Deal struct {
	ID            string      `json:"id"`
	LotID         string      `json:"lotId"`
	OfferID       string      `json:"offerId"`
	BuyerID       string      `json:"buyerId"`
	SellerID      string      `json:"sellerId"`
	Amount        float64     `json:"amount"`
	Currency      string      `json:"currency"`
	Status        DealStatus  `json:"status"`
	Milestones    []Milestone `json:"milestones"`
	DisputeReason string      `json:"disputeReason,omitempty"`
	CancelReason  string      `json:"cancelReason,omitempty"`
	DueAt         *time.Time  `json:"dueAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	Version       int64       `json:"version"`
}

// Party reports whether userID is the buyer or the seller of the deal.
func (d Deal) Party(userID string) Role {
	switch userID {
	case d.BuyerID:
		return RoleBuyer
	case d.SellerID:
		return RoleSeller
	}
	return RoleNone
}

// NewMilestones returns the fixed milestone schema with "accepted" completed at acceptedAt.
func NewMilestones(acceptedAt time.Time) []Milestone {
	out := make([]Milestone, 0, len(MilestoneOrder))
	for _, l := range MilestoneOrder {
		m := Milestone{Label: l, Title: l.Title()}
		if l == MilestoneAccepted {
			t := acceptedAt
			m.CompletedAt = &t
		}
		out = append(out, m)
	}
	return out
}

// DealStatusFor derives the progress status from the completed milestone set.
// Cancelled and in_dispute are never derived; they interrupt from outside.
func DealStatusFor(ms []Milestone) DealStatus {
	done := make(map[MilestoneLabel]bool, len(ms))
	for _, m := range ms {
		if m.Completed() {
			done[m.Label] = true
		}
	}
	switch {
	case done[MilestoneConfirmation]:
		return DealCompleted
	case done[MilestoneShipment]:
		return DealAwaitingConfirmation
	case done[MilestonePayment]:
		return DealAwaitingShipment
	}
	return DealAwaitingPayment
}

// MilestoneActor is the party allowed to complete each milestone.
func MilestoneActor(l MilestoneLabel) Role {
	switch l {
	case MilestonePayment, MilestoneConfirmation:
		return RoleBuyer
	case MilestoneShipment:
		return RoleSeller
	case MilestoneAccepted:
		return RoleNone
	}
	return RoleNone
}

type Message struct {
	ID            string    `json:"id"`
	OfferID       string    `json:"offerId"`
	SenderID      string    `json:"senderId"`
	Body          string    `json:"body,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	EntityID  string    `json:"entityId"`
	Read      bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// DashboardStats is the per-user read model maintained by the projector.
type DashboardStats struct {
	UserID              string    `json:"-"`
	ActiveLots          int       `json:"activeLots"`
	PendingOffers       int       `json:"pendingOffers"`
	ActiveDeals         int       `json:"activeDeals"`
	CompletedDeals      int       `json:"completedDeals"`
	OffersMade          int       `json:"offersMade"`
	UnreadNotifications int       `json:"unreadNotifications"`
	IncomingMessages    int       `json:"incomingMessages"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
