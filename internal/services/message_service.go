package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"lotbuy/internal/domain"
	"lotbuy/internal/repos"
)

// MessageService runs the conversation attached to each offer. Only the
// lot's buyer and the offering seller take part.
type MessageService struct {
	Store *repos.Store
	Now   func() time.Time
}

func NewMessageService(store *repos.Store) *MessageService {
	return &MessageService{Store: store, Now: time.Now}
}

func (s *MessageService) access(ctx context.Context, userID, offerID string) (domain.Offer, domain.Lot, error) {
	offer, err := s.Store.Offers.Get(ctx, offerID)
	if err != nil {
		return domain.Offer{}, domain.Lot{}, err
	}
	lot, err := s.Store.Lots.Get(ctx, offer.LotID)
	if err != nil {
		return domain.Offer{}, domain.Lot{}, err
	}
	if userID != lot.BuyerID && userID != offer.SellerID {
		return domain.Offer{}, domain.Lot{}, domain.Forbiddenf("only the buyer and the seller can see this conversation")
	}
	return offer, lot, nil
}

// Post stores a message and records an event for the other party in the
// same transaction.
func (s *MessageService) Post(ctx context.Context, userID, offerID, body, attachmentURL string) (domain.Message, error) {
	body = strings.TrimSpace(body)
	attachmentURL = strings.TrimSpace(attachmentURL)
	if body == "" && attachmentURL == "" {
		return domain.Message{}, domain.Validationf("message body or attachment is required")
	}
	if len(body) > maxTextLen {
		return domain.Message{}, domain.Validationf("message is too long")
	}
	if attachmentURL != "" && len(cleanURLs([]string{attachmentURL})) == 0 {
		return domain.Message{}, domain.Validationf("attachment must be a URL")
	}
	offer, lot, err := s.access(ctx, userID, offerID)
	if err != nil {
		return domain.Message{}, err
	}
	m := domain.Message{
		ID:            uuid.NewString(),
		OfferID:       offerID,
		SenderID:      userID,
		Body:          body,
		AttachmentURL: attachmentURL,
		CreatedAt:     s.Now().UTC().Truncate(time.Microsecond),
	}
	err = s.Store.InTx(ctx, func(tx *repos.Tx) error {
		if err := tx.Messages.Insert(ctx, m); err != nil {
			return err
		}
		return tx.Events.Append(ctx, domain.Event{
			EntityType: domain.EntityMessage,
			EntityID:   m.ID,
			NewStatus:  domain.StatusSent,
			ActorID:    userID,
			LotID:      lot.ID,
			UserIDs:    users(lot.BuyerID, offer.SellerID),
			OccurredAt: m.CreatedAt,
		})
	})
	if err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (s *MessageService) List(ctx context.Context, userID, offerID string) ([]domain.Message, error) {
	if _, _, err := s.access(ctx, userID, offerID); err != nil {
		return nil, err
	}
	return s.Store.Messages.ListByOffer(ctx, offerID)
}
