package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"lotbuy/internal/domain"
	"lotbuy/internal/log"
	"lotbuy/internal/repos"
	"lotbuy/internal/services"
	"lotbuy/internal/validate"
)

type LotHandler struct {
	Engine  *services.Engine
	Query   *services.QueryService
	Retries int
}

type lotInput struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	BudgetMin   *float64   `json:"budgetMin"`
	BudgetMax   *float64   `json:"budgetMax"`
	Currency    *string    `json:"currency"`
	Category    *string    `json:"category"`
	Location    *string    `json:"location"`
	Images      *[]string  `json:"images"`
	DeadlineAt  *time.Time `json:"deadlineAt"`
	// ClearDeadline removes an existing deadline on update.
	ClearDeadline bool `json:"clearDeadline"`
	Draft         bool `json:"draft"`
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func num(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func (in lotInput) spec() services.LotSpec {
	s := services.LotSpec{
		Title:       str(in.Title),
		Description: str(in.Description),
		BudgetMin:   num(in.BudgetMin),
		BudgetMax:   num(in.BudgetMax),
		Currency:    str(in.Currency),
		Category:    str(in.Category),
		Location:    str(in.Location),
		DeadlineAt:  in.DeadlineAt,
		Draft:       in.Draft,
	}
	if in.Images != nil {
		s.Images = *in.Images
	}
	return s
}

func (in lotInput) patch() services.LotPatch {
	return services.LotPatch{
		Title:         in.Title,
		Description:   in.Description,
		BudgetMin:     in.BudgetMin,
		BudgetMax:     in.BudgetMax,
		Currency:      in.Currency,
		Category:      in.Category,
		Location:      in.Location,
		Images:        in.Images,
		DeadlineAt:    in.DeadlineAt,
		ClearDeadline: in.ClearDeadline,
	}
}

// paramID reads and checks the :id route param.
func paramID(c *fiber.Ctx) (string, bool) {
	return validate.ID(c.Params("id"))
}

// Browse lists lots, active ones unless status says otherwise. Drafts are
// only listed with mine=true, which restricts the list to the caller's lots.
func (h *LotHandler) Browse(c *fiber.Ctx) error {
	f := repos.LotFilter{
		Sort:   repos.LotSort(c.Query("sort", string(repos.SortNewest))),
		Limit:  validate.Limit(c.Query("limit"), 20, 100),
		Offset: validate.Offset(c.Query("offset")),
	}
	switch f.Sort {
	case repos.SortNewest, repos.SortDeadline, repos.SortBudgetHigh, repos.SortBudgetLow:
	default:
		return badRequest(c, "unknown sort")
	}

	if c.QueryBool("mine") {
		if userID(c) == "" {
			return fail(c, domain.Unauthorizedf("authentication required"))
		}
		f.BuyerID = userID(c)
	}
	if raw := c.Query("status"); raw != "" {
		st, err := domain.ParseLotStatus(raw)
		if err != nil {
			return fail(c, err)
		}
		if st == domain.LotDraft && f.BuyerID == "" {
			return badRequest(c, "drafts are only listed with mine=true")
		}
		f.Status = &st
	} else if f.BuyerID == "" {
		active := domain.LotActive
		f.Status = &active
	}

	if raw := c.Query("q"); raw != "" {
		q, ok := validate.Q(raw)
		if !ok {
			log.Security(c, "search.invalid", map[string]any{"len": len(raw)})
			return badRequest(c, "invalid search query")
		}
		f.Query = q
	}
	if raw := c.Query("category"); raw != "" {
		cat, ok := validate.Category(raw)
		if !ok {
			return badRequest(c, "invalid category")
		}
		f.Category = cat
	}
	if raw := c.Query("location"); raw != "" {
		loc, ok := validate.Name(raw)
		if !ok {
			return badRequest(c, "invalid location")
		}
		f.Location = loc
	}
	var ok bool
	if f.MinBudget, ok = validate.Amount(c.Query("minBudget")); !ok {
		return badRequest(c, "invalid minBudget")
	}
	if f.MaxBudget, ok = validate.Amount(c.Query("maxBudget")); !ok {
		return badRequest(c, "invalid maxBudget")
	}

	lots, err := h.Query.BrowseLots(c.UserContext(), f)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"items": lots, "limit": f.Limit, "offset": f.Offset})
}

func (h *LotHandler) Create(c *fiber.Ctx) error {
	var in lotInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	lot, err := h.Engine.CreateLot(c.UserContext(), userID(c), in.spec())
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "lot.create", map[string]any{"lot_id": lot.ID, "status": lot.Status})
	return c.Status(fiber.StatusCreated).JSON(services.LotView{Lot: lot, ViewerRole: domain.RoleBuyer})
}

func (h *LotHandler) Get(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	v, err := h.Query.GetLot(c.UserContext(), userID(c), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(v)
}

func (h *LotHandler) Update(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	var in lotInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	lot, err := services.Retry(c.UserContext(), h.Retries, func(ctx context.Context) (domain.Lot, error) {
		return h.Engine.UpdateLot(ctx, userID(c), id, in.patch())
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "lot.update", map[string]any{"lot_id": id})
	return c.JSON(services.LotView{Lot: lot, ViewerRole: domain.RoleBuyer})
}

func (h *LotHandler) Delete(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return badRequest(c, "invalid id")
	}
	_, err := services.Retry(c.UserContext(), h.Retries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.Engine.DeleteLot(ctx, userID(c), id)
	})
	if err != nil {
		return fail(c, err)
	}
	log.Audit(c, "lot.delete", map[string]any{"lot_id": id})
	return c.SendStatus(fiber.StatusNoContent)
}

// Transition serves publish, unpublish and close.
func (h *LotHandler) Transition(action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := paramID(c)
		if !ok {
			return badRequest(c, "invalid id")
		}
		var op func(context.Context, string, string) (domain.Lot, error)
		switch action {
		case "publish":
			op = h.Engine.PublishLot
		case "unpublish":
			op = h.Engine.UnpublishLot
		case "close":
			op = h.Engine.CloseLot
		default:
			return fiber.ErrNotFound
		}
		lot, err := services.Retry(c.UserContext(), h.Retries, func(ctx context.Context) (domain.Lot, error) {
			return op(ctx, userID(c), id)
		})
		if err != nil {
			return fail(c, err)
		}
		log.Audit(c, "lot."+action, map[string]any{"lot_id": id, "status": lot.Status})
		return c.JSON(services.LotView{Lot: lot, ViewerRole: domain.RoleBuyer})
	}
}
