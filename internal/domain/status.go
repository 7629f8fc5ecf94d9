package domain

import "strings"

type LotStatus string

const (
	LotDraft   LotStatus = "draft"
	LotActive  LotStatus = "active"
	LotClosed  LotStatus = "closed"
	LotExpired LotStatus = "expired"
)

func (s LotStatus) String() string { return string(s) }

func (s LotStatus) Valid() bool {
	switch s {
	case LotDraft, LotActive, LotClosed, LotExpired:
		return true
	}
	return false
}

// CanTransition reports whether a lot may move from s to next. Lots only move
// forward, except that draft and active may swap.
func (s LotStatus) CanTransition(next LotStatus) bool {
	switch s {
	case LotDraft:
		return next == LotActive
	case LotActive:
		return next == LotDraft || next == LotClosed || next == LotExpired
	case LotClosed, LotExpired:
		return false
	}
	return false
}

func ParseLotStatus(s string) (LotStatus, error) {
	v := LotStatus(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", Validationf("unknown lot status %q", s)
	}
	return v, nil
}

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferDeclined  OfferStatus = "declined"
	OfferWithdrawn OfferStatus = "withdrawn"
)

func (s OfferStatus) String() string { return string(s) }

func (s OfferStatus) Valid() bool {
	switch s {
	case OfferPending, OfferAccepted, OfferDeclined, OfferWithdrawn:
		return true
	}
	return false
}

// Only pending offers can change status.
func (s OfferStatus) CanTransition(next OfferStatus) bool {
	if s != OfferPending {
		return false
	}
	switch next {
	case OfferAccepted, OfferDeclined, OfferWithdrawn:
		return true
	}
	return false
}

func ParseOfferStatus(s string) (OfferStatus, error) {
	v := OfferStatus(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", Validationf("unknown offer status %q", s)
	}
	return v, nil
}

type DealStatus string

const (
	DealAwaitingPayment      DealStatus = "awaiting_payment"
	DealAwaitingShipment     DealStatus = "awaiting_shipment"
	DealAwaitingConfirmation DealStatus = "awaiting_confirmation"
	DealCompleted            DealStatus = "completed"
	DealCancelled            DealStatus = "cancelled"
	DealInDispute            DealStatus = "in_dispute"
)

func (s DealStatus) String() string { return string(s) }

func (s DealStatus) Valid() bool {
	switch s {
	case DealAwaitingPayment, DealAwaitingShipment, DealAwaitingConfirmation,
		DealCompleted, DealCancelled, DealInDispute:
		return true
	}
	return false
}

// Terminal deals are immutable.
func (s DealStatus) Terminal() bool {
	switch s {
	case DealCompleted, DealCancelled:
		return true
	case DealAwaitingPayment, DealAwaitingShipment, DealAwaitingConfirmation, DealInDispute:
		return false
	}
	return false
}

// Active reports whether the deal still progresses through milestones.
func (s DealStatus) Active() bool {
	switch s {
	case DealAwaitingPayment, DealAwaitingShipment, DealAwaitingConfirmation:
		return true
	case DealCompleted, DealCancelled, DealInDispute:
		return false
	}
	return false
}

func ParseDealStatus(s string) (DealStatus, error) {
	v := DealStatus(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", Validationf("unknown deal status %q", s)
	}
	return v, nil
}

type MilestoneLabel string

const (
	MilestoneAccepted     MilestoneLabel = "accepted"
	MilestonePayment      MilestoneLabel = "payment"
	MilestoneShipment     MilestoneLabel = "shipment"
	MilestoneConfirmation MilestoneLabel = "confirmation"
)

// MilestoneOrder is the fixed completion order of every deal.
var MilestoneOrder = []MilestoneLabel{
	MilestoneAccepted,
	MilestonePayment,
	MilestoneShipment,
	MilestoneConfirmation,
}

func (l MilestoneLabel) String() string { return string(l) }

// Position is the zero-based index of l in MilestoneOrder, or -1.
func (l MilestoneLabel) Position() int {
	for i, m := range MilestoneOrder {
		if m == l {
			return i
		}
	}
	return -1
}

func (l MilestoneLabel) Valid() bool { return l.Position() >= 0 }

// Title is the display label used by the deals page.
func (l MilestoneLabel) Title() string {
	switch l {
	case MilestoneAccepted:
		return "Offer accepted"
	case MilestonePayment:
		return "Payment"
	case MilestoneShipment:
		return "Shipment"
	case MilestoneConfirmation:
		return "Confirmation"
	}
	return string(l)
}

func ParseMilestoneLabel(s string) (MilestoneLabel, error) {
	v := MilestoneLabel(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", Validationf("unknown milestone %q", s)
	}
	return v, nil
}

// Role is the relationship of a user to a lot, derived from stored data.
type Role string

const (
	RoleNone   Role = "none"
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)
