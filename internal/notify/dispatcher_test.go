package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"lotbuy/internal/domain"
	"lotbuy/internal/notify"
	"lotbuy/internal/repos"
)

func newStore(t *testing.T) *repos.Store {
	t.Helper()
	db, err := repos.OpenDB("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return repos.NewStore(db)
}

type recordingSink struct {
	mu   sync.Mutex
	seen []string
	// failOnce fails the first delivery of these keys.
	failOnce map[string]bool
	always   bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Deliver(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, e.Key())
	if r.always {
		return errors.New("sink down")
	}
	if r.failOnce[e.Key()] {
		delete(r.failOnce, e.Key())
		return errors.New("temporary failure")
	}
	return nil
}

func appendEvents(t *testing.T, st *repos.Store, ids ...string) {
	t.Helper()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range ids {
		err := st.Events.Append(context.Background(), domain.Event{
			EntityType: domain.EntityDeal,
			EntityID:   id,
			OldStatus:  string(domain.DealAwaitingPayment),
			NewStatus:  string(domain.DealAwaitingShipment),
			UserIDs:    []string{"buyer", "seller"},
			OccurredAt: now,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestDispatchOnce_DeliversInOrder(t *testing.T) {
	st := newStore(t)
	appendEvents(t, st, "d1", "d2", "d3")
	sink := &recordingSink{}
	d := notify.NewDispatcher(st.Events, []notify.Sink{sink}, time.Second, 10)

	n, err := d.DispatchOnce(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	want := []string{"deal:d1:awaiting_shipment", "deal:d2:awaiting_shipment", "deal:d3:awaiting_shipment"}
	for i, k := range want {
		if sink.seen[i] != k {
			t.Fatalf("delivery %d = %s, want %s", i, sink.seen[i], k)
		}
	}
	backlog, _ := st.Events.Backlog(context.Background())
	if backlog != 0 {
		t.Fatalf("backlog = %d", backlog)
	}
	n, _ = d.DispatchOnce(context.Background())
	if n != 0 {
		t.Fatalf("dispatched events must not be delivered again, n=%d", n)
	}
}

func TestDispatchOnce_FailureHoldsLaterEvents(t *testing.T) {
	st := newStore(t)
	appendEvents(t, st, "d1", "d2", "d3")
	flaky := &recordingSink{failOnce: map[string]bool{"deal:d2:awaiting_shipment": true}}
	steady := &recordingSink{}
	d := notify.NewDispatcher(st.Events, []notify.Sink{flaky, steady}, time.Second, 10)
	ctx := context.Background()

	n, err := d.DispatchOnce(ctx)
	if err == nil || n != 1 {
		t.Fatalf("first pass: n=%d err=%v", n, err)
	}
	if len(steady.seen) != 2 {
		t.Fatalf("d3 must wait behind d2, steady saw %v", steady.seen)
	}

	n, err = d.DispatchOnce(ctx)
	if err != nil || n != 2 {
		t.Fatalf("second pass: n=%d err=%v", n, err)
	}
	// d2 reached the steady sink twice: delivery is at-least-once.
	want := []string{"deal:d1:awaiting_shipment", "deal:d2:awaiting_shipment", "deal:d2:awaiting_shipment", "deal:d3:awaiting_shipment"}
	if len(steady.seen) != len(want) {
		t.Fatalf("steady saw %v", steady.seen)
	}
	for i := range want {
		if steady.seen[i] != want[i] {
			t.Fatalf("steady saw %v", steady.seen)
		}
	}
}

func TestDispatchOnce_ParksPoisonEvent(t *testing.T) {
	st := newStore(t)
	appendEvents(t, st, "d1")
	d := notify.NewDispatcher(st.Events, []notify.Sink{&recordingSink{always: true}}, time.Second, 10)
	d.MaxAttempts = 2
	ctx := context.Background()

	if _, err := d.DispatchOnce(ctx); err == nil {
		t.Fatal("first attempt should fail")
	}
	n, err := d.DispatchOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("second attempt should park: n=%d err=%v", n, err)
	}
	backlog, _ := st.Events.Backlog(ctx)
	if backlog != 0 {
		t.Fatalf("backlog = %d", backlog)
	}
}

func TestInboxSink_NotifiesCounterpartOnce(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	lot := domain.Lot{
		ID: "lot-1", BuyerID: "buyer", Title: "Camera", BudgetMin: 1, BudgetMax: 2,
		Currency: "USD", Status: domain.LotActive, CreatedAt: now, UpdatedAt: now, Version: 1,
	}
	if err := st.Lots.Insert(ctx, lot); err != nil {
		t.Fatal(err)
	}
	ev := domain.Event{
		Seq: 1, EntityType: domain.EntityOffer, EntityID: "offer-1",
		NewStatus: string(domain.OfferPending), ActorID: "seller", LotID: lot.ID,
		UserIDs: []string{"buyer", "seller"}, OccurredAt: now,
	}
	sink := notify.NewInboxSink(st.Notifications, st.Lots)
	for i := 0; i < 2; i++ {
		if err := sink.Deliver(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.Notifications.ListByUser(ctx, "buyer", false, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != "offer.received" || got[0].Title != `New offer on "Camera"` {
		t.Fatalf("buyer notifications = %+v", got)
	}
	mine, _ := st.Notifications.ListByUser(ctx, "seller", false, 10)
	if len(mine) != 0 {
		t.Fatalf("actor should not be notified, got %+v", mine)
	}
}

func TestWebhookSink(t *testing.T) {
	var (
		gotKey  string
		gotBody map[string]any
		fail    bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := notify.NewWebhookSink(srv.URL, time.Second)
	ev := domain.Event{EntityType: domain.EntityDeal, EntityID: "d1", NewStatus: "completed", OccurredAt: time.Now()}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if gotKey != "deal:d1:completed" || gotBody["key"] != "deal:d1:completed" {
		t.Fatalf("key header=%q body=%v", gotKey, gotBody)
	}

	fail = true
	if err := sink.Deliver(context.Background(), ev); err == nil {
		t.Fatal("non-2xx must be an error")
	}
}
