package handlers_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"lotbuy/internal/notify"
	"lotbuy/internal/services"
)

type party struct {
	token string
	id    string
}

func setupLotWithOffer(t *testing.T, env *testEnv, title string) (buyer, seller party, lotID, offerID string) {
	t.Helper()
	buyer.token, buyer.id = env.register(t, "buyer@example.com", "Buyer")
	seller.token, seller.id = env.register(t, "seller@example.com", "Seller")

	lot := env.expect(t, http.StatusCreated, "POST", "/api/requests", buyer.token, map[string]any{
		"title": title, "budgetMin": 100, "budgetMax": 500, "currency": "usd",
	})
	lotID, _ = lot["id"].(string)
	if lot["viewerRole"] != "buyer" || lot["status"] != "active" || lot["currency"] != "USD" {
		t.Fatalf("created lot = %v", lot)
	}

	offer := env.expect(t, http.StatusCreated, "POST", "/api/requests/"+lotID+"/offers", seller.token, map[string]any{
		"priceAmount": 300,
		"message":     "Barely used",
		"deliveryOptions": []map[string]any{
			{"type": "courier", "timeframe": "2 days", "cost": 20},
		},
	})
	offerID, _ = offer["id"].(string)
	if offer["status"] != "pending" || offer["description"] != "Barely used" {
		t.Fatalf("offer = %v", offer)
	}
	return buyer, seller, lotID, offerID
}

func TestDealFlow(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller, lotID, offerID := setupLotWithOffer(t, env, "Road bike")
	stranger, _ := env.register(t, "stranger@example.com", "Stranger")

	// Buyers cannot bid on their own lot and sellers cannot accept.
	env.expect(t, http.StatusForbidden, "POST", "/api/requests/"+lotID+"/offers", buyer.token, map[string]any{"price": 200})
	denied := env.expect(t, http.StatusForbidden, "PATCH", "/api/offers/"+offerID+"/accept", seller.token, nil)
	if denied["kind"] != "forbidden" {
		t.Fatalf("seller accept = %v", denied)
	}

	deal := env.expect(t, http.StatusCreated, "PATCH", "/api/offers/"+offerID+"/accept", buyer.token, nil)
	dealID, _ := deal["id"].(string)
	if deal["status"] != "awaiting_payment" || deal["lotId"] != lotID {
		t.Fatalf("deal = %v", deal)
	}
	again := env.expect(t, http.StatusConflict, "POST", "/api/offers/"+offerID+"/accept", buyer.token, nil)
	if again["kind"] != "invalid_state" {
		t.Fatalf("second accept = %v", again)
	}

	lot := env.expect(t, http.StatusOK, "GET", "/api/requests/"+lotID, seller.token, nil)
	if lot["status"] != "closed" || lot["viewerRole"] != "seller" {
		t.Fatalf("lot after accept = %v", lot)
	}

	path := "/api/deals/" + dealID
	ooo := env.expect(t, http.StatusConflict, "PATCH", path, seller.token, map[string]string{"action": "advance", "milestone": "shipment"})
	if ooo["kind"] != "out_of_order" {
		t.Fatalf("early shipment = %v", ooo)
	}
	env.expect(t, http.StatusForbidden, "PATCH", path, seller.token, map[string]string{"action": "advance", "milestone": "payment"})
	env.expect(t, http.StatusBadRequest, "PATCH", path, buyer.token, map[string]string{"action": "advance", "milestone": "delivery"})
	env.expect(t, http.StatusBadRequest, "PATCH", path, buyer.token, map[string]string{"action": "teleport"})

	steps := []struct {
		who       party
		milestone string
		status    string
	}{
		{buyer, "payment", "awaiting_shipment"},
		{seller, "shipment", "awaiting_confirmation"},
		{buyer, "confirmation", "completed"},
	}
	for _, s := range steps {
		out := env.expect(t, http.StatusOK, "PATCH", path, s.who.token, map[string]string{"action": "advance", "milestone": s.milestone})
		if out["status"] != s.status {
			t.Fatalf("after %s: %v", s.milestone, out["status"])
		}
	}
	late := env.expect(t, http.StatusConflict, "PATCH", path, buyer.token, map[string]string{"action": "dispute", "reason": "late"})
	if late["kind"] != "invalid_state" {
		t.Fatalf("dispute on completed deal = %v", late)
	}

	env.expect(t, http.StatusForbidden, "GET", path, stranger, nil)
	env.expect(t, http.StatusForbidden, "GET", path+"/history", stranger, nil)
	history := items(t, env.expect(t, http.StatusOK, "GET", path+"/history", seller.token, nil))
	wantHistory := []string{"awaiting_payment", "awaiting_shipment", "awaiting_confirmation", "completed"}
	if len(history) != len(wantHistory) {
		t.Fatalf("history = %v", history)
	}
	for i, h := range history {
		if got := h.(map[string]any)["newStatus"]; got != wantHistory[i] {
			t.Fatalf("history[%d] = %v, want %s", i, got, wantHistory[i])
		}
	}
	mine := env.expect(t, http.StatusOK, "GET", "/api/deals?status=completed", seller.token, nil)
	if len(items(t, mine)) != 1 {
		t.Fatalf("seller deals = %v", mine)
	}

	resp := env.call(t, "GET", "/deals/"+dealID+"/receipt", buyer.token, nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("receipt status=%d type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(string(body), "Road bike") || !strings.Contains(string(body), "300.00 USD") {
		t.Fatalf("receipt body missing details: %s", body)
	}
	env.expect(t, http.StatusForbidden, "GET", "/deals/"+dealID+"/receipt", stranger, nil)
}

func TestDisputeAndCancelOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller, _, offerID := setupLotWithOffer(t, env, "Camera")
	deal := env.expect(t, http.StatusCreated, "PATCH", "/api/offers/"+offerID+"/accept", buyer.token, nil)
	path := "/api/deals/" + deal["id"].(string)

	env.expect(t, http.StatusOK, "PATCH", path, buyer.token, map[string]string{"action": "advance", "milestone": "payment"})
	late := env.expect(t, http.StatusConflict, "PATCH", path, seller.token, map[string]string{"action": "cancel", "reason": "changed mind"})
	if late["kind"] != "invalid_state" {
		t.Fatalf("cancel after payment = %v", late)
	}
	disputed := env.expect(t, http.StatusOK, "PATCH", path, seller.token, map[string]string{"action": "dispute", "reason": "payment bounced"})
	if disputed["status"] != "in_dispute" || disputed["disputeReason"] != "payment bounced" {
		t.Fatalf("dispute = %v", disputed)
	}
	env.expect(t, http.StatusConflict, "PATCH", path, seller.token, map[string]string{"action": "advance", "milestone": "shipment"})
}

func TestOfferVisibilityAndComparison(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller, lotID, offerID := setupLotWithOffer(t, env, "Guitar")
	rival, _ := env.register(t, "rival@example.com", "Rival")
	env.expect(t, http.StatusCreated, "POST", "/api/requests/"+lotID+"/offers", rival, map[string]any{"price": 150})

	if n := len(items(t, env.expect(t, http.StatusOK, "GET", "/api/requests/"+lotID+"/offers", buyer.token, nil))); n != 2 {
		t.Fatalf("buyer sees %d offers", n)
	}
	if n := len(items(t, env.expect(t, http.StatusOK, "GET", "/api/requests/"+lotID+"/offers", seller.token, nil))); n != 1 {
		t.Fatalf("seller sees %d offers", n)
	}
	if n := len(items(t, env.expect(t, http.StatusOK, "GET", "/api/requests/"+lotID+"/offers", "", nil))); n != 0 {
		t.Fatalf("anonymous sees %d offers", n)
	}

	ranked := items(t, env.expect(t, http.StatusOK, "GET", "/api/requests/"+lotID+"/offers/compare", buyer.token, nil))
	top, _ := ranked[0].(map[string]any)
	if len(ranked) != 2 || top["best"] != true {
		t.Fatalf("compare = %v", ranked)
	}
	env.expect(t, http.StatusForbidden, "GET", "/api/requests/"+lotID+"/offers/compare", seller.token, nil)

	withdrawn := env.expect(t, http.StatusOK, "PATCH", "/api/offers/"+offerID+"/withdraw", seller.token, nil)
	if withdrawn["status"] != "withdrawn" {
		t.Fatalf("withdraw = %v", withdrawn)
	}
	env.expect(t, http.StatusForbidden, "PATCH", "/api/offers/"+offerID+"/decline", seller.token, nil)
}

func TestMessagesNotificationsAndDashboard(t *testing.T) {
	env := newTestEnv(t)
	buyer, seller, _, offerID := setupLotWithOffer(t, env, "Sofa")
	stranger, _ := env.register(t, "stranger@example.com", "Stranger")

	msgPath := "/api/offers/" + offerID + "/messages"
	env.expect(t, http.StatusCreated, "POST", msgPath, buyer.token, map[string]string{"body": "Can you deliver Friday?"})
	env.expect(t, http.StatusCreated, "POST", msgPath, seller.token, map[string]string{"body": "Yes"})
	env.expect(t, http.StatusForbidden, "POST", msgPath, stranger, map[string]string{"body": "hello"})
	env.expect(t, http.StatusBadRequest, "POST", msgPath, buyer.token, map[string]string{"body": " "})
	if n := len(items(t, env.expect(t, http.StatusOK, "GET", msgPath, seller.token, nil))); n != 2 {
		t.Fatalf("thread has %d messages", n)
	}

	env.expect(t, http.StatusCreated, "PATCH", "/api/offers/"+offerID+"/accept", buyer.token, nil)

	d := notify.NewDispatcher(env.store.Events, []notify.Sink{
		notify.NewInboxSink(env.store.Notifications, env.store.Lots),
		services.NewProjector(env.store.Stats),
	}, 0, 100)
	if _, err := d.DispatchOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	notes := env.expect(t, http.StatusOK, "GET", "/api/notifications?unread=true", seller.token, nil)
	list := items(t, notes)
	if len(list) == 0 || notes["unread"].(float64) != float64(len(list)) {
		t.Fatalf("seller notifications = %v", notes)
	}
	var heard bool
	for _, n := range list {
		if n.(map[string]any)["type"] == "message.new" {
			heard = true
		}
	}
	if !heard {
		t.Fatalf("seller not notified of buyer message: %v", list)
	}
	first, _ := list[0].(map[string]any)
	env.expect(t, http.StatusNoContent, "PATCH", "/api/notifications/"+first["id"].(string)+"/read", seller.token, nil)
	env.expect(t, http.StatusNotFound, "PATCH", "/api/notifications/"+first["id"].(string)+"/read", buyer.token, nil)
	env.expect(t, http.StatusNoContent, "POST", "/api/notifications/read-all", seller.token, nil)
	after := env.expect(t, http.StatusOK, "GET", "/api/notifications?unread=true", seller.token, nil)
	if len(items(t, after)) != 0 {
		t.Fatalf("unread after read-all = %v", after)
	}

	dash := env.expect(t, http.StatusOK, "GET", "/api/dashboard", seller.token, nil)
	stats, _ := dash["stats"].(map[string]any)
	if stats["activeDeals"] != float64(1) || stats["offersMade"] != float64(1) || stats["unreadNotifications"] != float64(0) ||
		stats["incomingMessages"] != float64(1) {
		t.Fatalf("seller dashboard = %v", dash)
	}
	if mine, _ := dash["myOffers"].([]any); len(mine) != 1 || mine[0].(map[string]any)["id"] != offerID {
		t.Fatalf("seller offers on dashboard = %v", dash["myOffers"])
	}
	env.expect(t, http.StatusUnauthorized, "GET", "/api/dashboard", "", nil)
}
