package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/domain"
	"lotbuy/internal/log"
	"lotbuy/internal/services"
)

type DealHandler struct {
	Engine  *services.Engine
	Query   *services.QueryService
	Retries int
}

type dealAction struct {
	Action    string `json:"action"`
	Milestone string `json:"milestone"`
	Reason    string `json:"reason"`
}

func (h *DealHandler) List(c *fiber.Ctx) error {
	var status *domain.DealStatus
	if raw := c.Query("status"); raw != "" {
		st, err := domain.ParseDealStatus(raw)
		if err != nil {
			return fail(c, err)
		}
		status = &st
	}
	deals, err := h.Query.ListDeals(c.UserContext(), userID(c), status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"items": deals})
}

func (h *DealHandler) Get(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	d, err := h.Query.GetDeal(c.UserContext(), userID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(d)
}

// History lists the deal's status transitions.
func (h *DealHandler) History(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	events, err := h.Query.DealHistory(c.UserContext(), userID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"items": events})
}

// Update applies one of advance, dispute or cancel.
func (h *DealHandler) Update(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var in dealAction
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	reason := strings.TrimSpace(in.Reason)

	var op func(ctx context.Context) (domain.Deal, error)
	switch in.Action {
	case "advance":
		label, err := domain.ParseMilestoneLabel(in.Milestone)
		if err != nil {
			return fail(c, err)
		}
		op = func(ctx context.Context) (domain.Deal, error) {
			return h.Engine.AdvanceMilestone(ctx, userID(c), id, label)
		}
	case "dispute":
		op = func(ctx context.Context) (domain.Deal, error) {
			return h.Engine.OpenDispute(ctx, userID(c), id, reason)
		}
	case "cancel":
		op = func(ctx context.Context) (domain.Deal, error) {
			return h.Engine.CancelDeal(ctx, userID(c), id, reason)
		}
	default:
		return badRequest(c, "action must be advance, dispute or cancel")
	}

	d, err := services.Retry(c.UserContext(), h.Retries, op)
	if err != nil {
		return fail(c, err)
	}
	fields := map[string]any{"deal_id": id, "status": d.Status}
	if in.Milestone != "" {
		fields["milestone"] = in.Milestone
	}
	log.Audit(c, "deal."+in.Action, fields)
	return c.JSON(d)
}

// Receipt renders a printable summary of the deal for either party.
func (h *DealHandler) Receipt(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	d, err := h.Query.GetDeal(c.UserContext(), userID(c), id)
	if err != nil {
		return fail(c, err)
	}
	lot, err := h.Query.GetLot(c.UserContext(), userID(c), d.LotID)
	if err != nil {
		return fail(c, err)
	}
	return render(c, "receipt", fiber.Map{
		"Deal": d,
		"Lot":  lot.Lot,
		"Role": d.Party(userID(c)),
	})
}

func (h *DealHandler) Dashboard(c *fiber.Ctx) error {
	v, err := h.Query.Dashboard(c.UserContext(), userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(v)
}
