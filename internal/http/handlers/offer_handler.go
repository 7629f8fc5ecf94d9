package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/domain"
	"lotbuy/internal/log"
	"lotbuy/internal/services"
)

type OfferHandler struct {
	Engine   *services.Engine
	Query    *services.QueryService
	Messages *services.MessageService
	Retries  int
}

type offerInput struct {
	Price           *float64                `json:"price"`
	PriceAmount     *float64                `json:"priceAmount"`
	Currency        string                  `json:"currency"`
	CurrencyCode    string                  `json:"currencyCode"`
	Description     string                  `json:"description"`
	Message         string                  `json:"message"`
	DeliveryOptions []domain.DeliveryOption `json:"deliveryOptions"`
	Images          []string                `json:"images"`
}

// spec accepts both the short field names and the ones older clients send.
func (in offerInput) spec() services.OfferSpec {
	price := in.Price
	if price == nil {
		price = in.PriceAmount
	}
	s := services.OfferSpec{
		Price:           num(price),
		Currency:        in.Currency,
		Description:     in.Description,
		DeliveryOptions: in.DeliveryOptions,
		Images:          in.Images,
	}
	if s.Currency == "" {
		s.Currency = in.CurrencyCode
	}
	if s.Description == "" {
		s.Description = in.Message
	}
	return s
}

func (h *OfferHandler) List(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	offers, err := h.Query.ListOffers(c.UserContext(), userID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"items": offers})
}

func (h *OfferHandler) Compare(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	ranked, err := h.Query.CompareOffers(c.UserContext(), userID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"items": ranked})
}

func (h *OfferHandler) Submit(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var in offerInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	offer, err := services.Retry(c.UserContext(), h.Retries, func(ctx context.Context) (domain.Offer, error) {
		return h.Engine.SubmitOffer(ctx, userID(c), id, in.spec())
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "offer.submit", map[string]any{"lot_id": id, "offer_id": offer.ID, "price": offer.Price})
	return c.Status(fiber.StatusCreated).JSON(offer)
}

func (h *OfferHandler) Accept(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	deal, err := services.Retry(c.UserContext(), h.Retries, func(ctx context.Context) (domain.Deal, error) {
		return h.Engine.AcceptOffer(ctx, userID(c), id)
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "offer.accept", map[string]any{"offer_id": id, "deal_id": deal.ID, "lot_id": deal.LotID})
	return c.Status(fiber.StatusCreated).JSON(deal)
}

func (h *OfferHandler) Decline(c *fiber.Ctx) error {
	return h.move(c, "offer.decline", h.Engine.DeclineOffer)
}

func (h *OfferHandler) Withdraw(c *fiber.Ctx) error {
	return h.move(c, "offer.withdraw", h.Engine.WithdrawOffer)
}

func (h *OfferHandler) move(c *fiber.Ctx, action string, op func(context.Context, string, string) (domain.Offer, error)) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	offer, err := services.Retry(c.UserContext(), h.Retries, func(ctx context.Context) (domain.Offer, error) {
		return op(ctx, userID(c), id)
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, action, map[string]any{"offer_id": id, "status": offer.Status})
	return c.JSON(offer)
}

type messageInput struct {
	Body          string `json:"body"`
	AttachmentURL string `json:"attachmentUrl"`
}

func (h *OfferHandler) ListMessages(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	msgs, err := h.Messages.List(c.UserContext(), userID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"items": msgs})
}

func (h *OfferHandler) PostMessage(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var in messageInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	m, err := h.Messages.Post(c.UserContext(), userID(c), id, in.Body, in.AttachmentURL)
	if err != nil {
		return fail(c, err)
	}
	log.Info(c, "message.post", map[string]any{"offer_id": id})
	return c.Status(fiber.StatusCreated).JSON(m)
}
