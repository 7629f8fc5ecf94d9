package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"lotbuy/internal/domain"
	"lotbuy/internal/repos"
)

// InboxSink turns transition events into in-app notifications. The
// (user, event key) uniqueness in the store makes redelivery harmless.
type InboxSink struct {
	notes *repos.NotificationRepo
	lots  *repos.LotRepo
}

func NewInboxSink(notes *repos.NotificationRepo, lots *repos.LotRepo) *InboxSink {
	return &InboxSink{notes: notes, lots: lots}
}

func (s *InboxSink) Name() string { return "inbox" }

type note struct {
	userID string
	typ    string
	title  string
	body   string
}

func (s *InboxSink) Deliver(ctx context.Context, e domain.Event) error {
	notes := s.compose(ctx, e)
	for _, n := range notes {
		_, err := s.notes.InsertOnce(ctx, domain.Notification{
			ID:        uuid.NewString(),
			UserID:    n.userID,
			Type:      n.typ,
			Title:     n.title,
			Body:      n.body,
			EntityID:  e.EntityID,
			CreatedAt: e.OccurredAt.UTC().Truncate(time.Microsecond),
		}, e.Key())
		if err != nil {
			return err
		}
	}
	return nil
}

// compose decides who hears about e. Actors are not notified of their own
// actions.
func (s *InboxSink) compose(ctx context.Context, e domain.Event) []note {
	title := s.lotTitle(ctx, e.LotID)
	var out []note
	add := func(userID, typ, heading, body string) {
		if userID == "" || userID == e.ActorID {
			return
		}
		out = append(out, note{userID: userID, typ: typ, title: heading, body: body})
	}
	buyer, seller := parties(e)

	switch e.EntityType {
	case domain.EntityLot:
		if e.NewStatus == string(domain.LotExpired) {
			add(buyer, "request.expired", "Request expired", title+" reached its deadline without a deal.")
		}
	case domain.EntityOffer:
		switch domain.OfferStatus(e.NewStatus) {
		case domain.OfferPending:
			add(buyer, "offer.received", "New offer on "+title, "A seller submitted an offer.")
		case domain.OfferAccepted:
			add(seller, "offer.accepted", "Offer accepted", "Your offer on "+title+" was accepted.")
		case domain.OfferDeclined:
			add(seller, "offer.declined", "Offer declined", "Your offer on "+title+" was declined.")
		case domain.OfferWithdrawn:
			add(buyer, "offer.withdrawn", "Offer withdrawn", "A seller withdrew their offer on "+title+".")
		}
	case domain.EntityDeal:
		heading, body := dealText(domain.DealStatus(e.NewStatus), e.Reason, title)
		if heading == "" {
			break
		}
		add(buyer, "deal."+e.NewStatus, heading, body)
		add(seller, "deal."+e.NewStatus, heading, body)
	case domain.EntityMessage:
		body := "You have a new message about " + title + "."
		add(buyer, "message.new", "New message", body)
		add(seller, "message.new", "New message", body)
	}
	return out
}

func dealText(st domain.DealStatus, reason, title string) (string, string) {
	switch st {
	case domain.DealAwaitingPayment:
		return "Deal started", "A deal was opened for " + title + ". Payment is due next."
	case domain.DealAwaitingShipment:
		return "Payment completed", "Payment for " + title + " is done. Awaiting shipment."
	case domain.DealAwaitingConfirmation:
		return "Item shipped", title + " has shipped. Awaiting confirmation."
	case domain.DealCompleted:
		return "Deal completed", "The deal for " + title + " is complete."
	case domain.DealCancelled:
		return "Deal cancelled", withReason("The deal for "+title+" was cancelled.", reason)
	case domain.DealInDispute:
		return "Dispute opened", withReason("A dispute was opened on the deal for "+title+".", reason)
	}
	return "", ""
}

func withReason(s, reason string) string {
	if reason == "" {
		return s
	}
	return s + " Reason: " + reason
}

// parties reads buyer and seller from an event's user list, which the engine
// writes buyer first.
func parties(e domain.Event) (buyer, seller string) {
	if len(e.UserIDs) > 0 {
		buyer = e.UserIDs[0]
	}
	if len(e.UserIDs) > 1 {
		seller = e.UserIDs[1]
	}
	return buyer, seller
}

func (s *InboxSink) lotTitle(ctx context.Context, lotID string) string {
	if lotID == "" || s.lots == nil {
		return "your request"
	}
	lot, err := s.lots.Get(ctx, lotID)
	if err != nil {
		return "your request"
	}
	return "\"" + lot.Title + "\""
}
