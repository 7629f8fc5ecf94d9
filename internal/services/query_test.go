package services_test

import (
	"context"
	"testing"
	"time"

	"lotbuy/internal/domain"
	"lotbuy/internal/notify"
	"lotbuy/internal/repos"
	"lotbuy/internal/services"
)

func TestCompareOffers_Ranking(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	q := services.NewQueryService(st, services.NewProjector(st.Stats))
	lot := mustLot(t, eng, "buyer")

	submit := func(seller string, price float64, opts ...domain.DeliveryOption) domain.Offer {
		o, err := eng.SubmitOffer(ctx, seller, lot.ID, services.OfferSpec{Price: price, DeliveryOptions: opts})
		if err != nil {
			t.Fatal(err)
		}
		return o
	}
	cheap := submit("s1", 200, domain.DeliveryOption{Type: "courier", Cost: 10}, domain.DeliveryOption{Type: "pickup", Cost: 0})
	pricey := submit("s2", 900)
	mid := submit("s3", 500, domain.DeliveryOption{Type: "courier", Cost: 200})

	ranked, err := q.CompareOffers(ctx, "buyer", lot.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 3 {
		t.Fatalf("ranked = %d", len(ranked))
	}
	order := []string{cheap.ID, mid.ID, pricey.ID}
	for i, id := range order {
		if ranked[i].ID != id {
			t.Fatalf("rank %d = %s (score %d), want %s", i, ranked[i].ID, ranked[i].Score, id)
		}
	}
	if !ranked[0].Best || ranked[1].Best {
		t.Fatal("only the top offer is best")
	}
	if ranked[0].Score != 86 || ranked[0].CheapestShip != 0 {
		t.Fatalf("top score = %d, cheapest = %v", ranked[0].Score, ranked[0].CheapestShip)
	}

	_, err = q.CompareOffers(ctx, "s1", lot.ID)
	wantKind(t, err, domain.ErrForbidden)
}

func TestViewerRoleAndOfferVisibility(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	q := services.NewQueryService(st, services.NewProjector(st.Stats))
	lot := mustLot(t, eng, "buyer")
	mustOffer(t, eng, "s1", lot.ID, 300)
	mustOffer(t, eng, "s2", lot.ID, 400)

	for viewer, want := range map[string]domain.Role{
		"buyer": domain.RoleBuyer, "s1": domain.RoleSeller, "visitor": domain.RoleNone, "": domain.RoleNone,
	} {
		v, err := q.GetLot(ctx, viewer, lot.ID)
		if err != nil {
			t.Fatal(err)
		}
		if v.ViewerRole != want {
			t.Errorf("%q role = %s, want %s", viewer, v.ViewerRole, want)
		}
	}

	all, _ := q.ListOffers(ctx, "buyer", lot.ID)
	mine, _ := q.ListOffers(ctx, "s1", lot.ID)
	none, _ := q.ListOffers(ctx, "visitor", lot.ID)
	if len(all) != 2 || len(mine) != 1 || len(none) != 0 {
		t.Fatalf("visibility all=%d mine=%d none=%d", len(all), len(mine), len(none))
	}

	draft, err := eng.CreateLot(ctx, "buyer", services.LotSpec{Title: "Secret", BudgetMin: 1, BudgetMax: 2, Draft: true})
	if err != nil {
		t.Fatal(err)
	}
	_, err = q.GetLot(ctx, "visitor", draft.ID)
	wantKind(t, err, domain.ErrNotFound)

	active := domain.LotActive
	browse, err := q.BrowseLots(ctx, repos.LotFilter{Status: &active})
	if err != nil {
		t.Fatal(err)
	}
	if len(browse) != 1 || browse[0].ID != lot.ID {
		t.Fatalf("browse = %+v", browse)
	}
}

func TestDashboardProjection(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	proj := services.NewProjector(st.Stats)
	q := services.NewQueryService(st, proj)

	lot := mustLot(t, eng, "buyer")
	mustLot(t, eng, "buyer")
	a := mustOffer(t, eng, "seller", lot.ID, 500)
	if _, err := eng.AcceptOffer(ctx, "buyer", a.ID); err != nil {
		t.Fatal(err)
	}

	events, err := st.Events.Pending(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range events {
		if err := proj.Deliver(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	buyer, err := q.Dashboard(ctx, "buyer")
	if err != nil {
		t.Fatal(err)
	}
	if buyer.Stats.ActiveLots != 1 || buyer.Stats.ActiveDeals != 1 || buyer.Stats.PendingOffers != 0 {
		t.Fatalf("buyer stats = %+v", buyer.Stats)
	}
	if len(buyer.RecentDeals) != 1 || len(buyer.MyLots) != 2 {
		t.Fatalf("buyer view deals=%d lots=%d", len(buyer.RecentDeals), len(buyer.MyLots))
	}

	// No stored row yet for a user the events never named.
	fresh, err := q.Dashboard(ctx, "newcomer")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Stats.ActiveLots != 0 || fresh.Stats.UserID != "newcomer" {
		t.Fatalf("fresh stats = %+v", fresh.Stats)
	}

	seller, _, err := st.Stats.Get(ctx, "seller")
	if err != nil {
		t.Fatal(err)
	}
	if seller.OffersMade != 1 || seller.ActiveDeals != 1 {
		t.Fatalf("seller stats = %+v", seller)
	}
}

func TestGetDeal_PartiesOnly(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	q := services.NewQueryService(st, services.NewProjector(st.Stats))
	lot := mustLot(t, eng, "buyer")
	a := mustOffer(t, eng, "seller", lot.ID, 500)
	deal, _ := eng.AcceptOffer(ctx, "buyer", a.ID)

	if _, err := q.GetDeal(ctx, "seller", deal.ID); err != nil {
		t.Fatal(err)
	}
	_, err := q.GetDeal(ctx, "stranger", deal.ID)
	wantKind(t, err, domain.ErrForbidden)

	st2 := domain.DealCompleted
	done, err := q.ListDeals(ctx, "buyer", &st2)
	if err != nil || len(done) != 0 {
		t.Fatalf("completed deals = %d err=%v", len(done), err)
	}
}

func TestAuthService(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	auth := services.NewAuthService(st.Users)

	u, token, err := auth.Register(ctx, "Ada@Example.com", "Ada", "Passw0rd!")
	if err != nil {
		t.Fatal(err)
	}
	if token == "" || u.Email != "ada@example.com" {
		t.Fatalf("register: %+v %q", u, token)
	}
	_, _, err = auth.Register(ctx, "ada@example.com", "Ada", "Passw0rd!")
	wantKind(t, err, domain.ErrConflict)
	_, _, err = auth.Register(ctx, "bob@example.com", "Bob", "weak")
	wantKind(t, err, domain.ErrValidation)

	_, _, err = auth.Login(ctx, "ada@example.com", "wrong-Passw0rd")
	wantKind(t, err, domain.ErrUnauthorized)

	_, tok2, err := auth.Login(ctx, "ADA@example.com", "Passw0rd!")
	if err != nil {
		t.Fatal(err)
	}
	me, err := auth.CurrentUser(ctx, tok2)
	if err != nil || me.ID != u.ID {
		t.Fatalf("current user: %+v %v", me, err)
	}
	if err := auth.Logout(ctx, tok2); err != nil {
		t.Fatal(err)
	}
	_, err = auth.CurrentUser(ctx, tok2)
	wantKind(t, err, domain.ErrUnauthorized)
}

func TestMessageService(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	msgs := services.NewMessageService(st)
	lot := mustLot(t, eng, "buyer")
	o := mustOffer(t, eng, "seller", lot.ID, 400)

	_, err := msgs.Post(ctx, "stranger", o.ID, "hi", "")
	wantKind(t, err, domain.ErrForbidden)
	_, err = msgs.Post(ctx, "buyer", o.ID, "  ", "")
	wantKind(t, err, domain.ErrValidation)

	if _, err := msgs.Post(ctx, "buyer", o.ID, "Is it still available?", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := msgs.Post(ctx, "seller", o.ID, "Yes", "https://cdn.example.com/photo.jpg"); err != nil {
		t.Fatal(err)
	}
	thread, err := msgs.List(ctx, "seller", o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 2 || thread[0].SenderID != "buyer" {
		t.Fatalf("thread = %+v", thread)
	}
}

// A posted message notifies the other party and counts as incoming for them
// until it falls out of the weekly window.
func TestMessageNotifiesOtherParty(t *testing.T) {
	eng, st, clk := newEngine(t)
	ctx := context.Background()
	msgs := services.NewMessageService(st)
	msgs.Now = clk.Now
	proj := services.NewProjector(st.Stats)
	proj.Now = clk.Now
	q := services.NewQueryService(st, proj)
	d := notify.NewDispatcher(st.Events, []notify.Sink{notify.NewInboxSink(st.Notifications, st.Lots), proj}, 0, 100)

	lot := mustLot(t, eng, "buyer")
	o := mustOffer(t, eng, "seller", lot.ID, 400)
	m, err := msgs.Post(ctx, "seller", o.ID, "Pickup or delivery?", "")
	if err != nil {
		t.Fatal(err)
	}
	history, err := st.Events.ListByEntity(ctx, domain.EntityMessage, m.ID)
	if err != nil || len(history) != 1 || history[0].ActorID != "seller" || history[0].LotID != lot.ID {
		t.Fatalf("message event = %+v %v", history, err)
	}
	if _, err := d.DispatchOnce(ctx); err != nil {
		t.Fatal(err)
	}

	notes, err := st.Notifications.ListByUser(ctx, "buyer", true, 50)
	if err != nil {
		t.Fatal(err)
	}
	var got bool
	for _, n := range notes {
		if n.Type == "message.new" && n.EntityID == m.ID {
			got = true
		}
	}
	if !got {
		t.Fatalf("buyer notifications = %+v", notes)
	}
	sellerNotes, _ := st.Notifications.ListByUser(ctx, "seller", false, 50)
	for _, n := range sellerNotes {
		if n.Type == "message.new" {
			t.Fatalf("sender notified of own message: %+v", n)
		}
	}

	buyer, err := q.Dashboard(ctx, "buyer")
	if err != nil || buyer.Stats.IncomingMessages != 1 {
		t.Fatalf("buyer stats = %+v %v", buyer.Stats, err)
	}
	seller, err := q.Dashboard(ctx, "seller")
	if err != nil || seller.Stats.IncomingMessages != 0 || len(seller.MyOffers) != 1 {
		t.Fatalf("seller view = %+v %v", seller, err)
	}

	clk.Advance(8 * 24 * time.Hour)
	refreshed, err := proj.Refresh(ctx, "buyer")
	if err != nil || refreshed.IncomingMessages != 0 {
		t.Fatalf("stale message still counted: %+v %v", refreshed, err)
	}
}

func TestDealHistory_PartiesOnly(t *testing.T) {
	eng, st, _ := newEngine(t)
	ctx := context.Background()
	q := services.NewQueryService(st, services.NewProjector(st.Stats))
	lot := mustLot(t, eng, "buyer")
	o := mustOffer(t, eng, "seller", lot.ID, 500)
	deal, err := eng.AcceptOffer(ctx, "buyer", o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.AdvanceMilestone(ctx, "buyer", deal.ID, domain.MilestonePayment); err != nil {
		t.Fatal(err)
	}

	_, err = q.DealHistory(ctx, "stranger", deal.ID)
	wantKind(t, err, domain.ErrForbidden)

	history, err := q.DealHistory(ctx, "seller", deal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].NewStatus != string(domain.DealAwaitingPayment) ||
		history[1].OldStatus != string(domain.DealAwaitingPayment) || history[1].NewStatus != string(domain.DealAwaitingShipment) {
		t.Fatalf("history = %+v", history)
	}
}
