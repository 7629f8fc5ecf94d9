package notify_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"lotbuy/internal/domain"
	"lotbuy/internal/notify"
)

// fakeRedis keeps markers and stream entries in memory.
type fakeRedis struct {
	mu      sync.Mutex
	keys    map[string]interface{}
	entries []map[string]interface{}
	xaddErr error
	setErr  error
}

func newFakeRedis() *fakeRedis { return &fakeRedis{keys: map[string]interface{}{}} }

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.xaddErr != nil {
		return redis.NewStringResult("", f.xaddErr)
	}
	f.entries = append(f.entries, a.Values.(map[string]interface{}))
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.keys[key] = value
	return redis.NewStatusResult("OK", nil)
}

func streamEvent(id string) domain.Event {
	return domain.Event{
		Seq: 7, EntityType: domain.EntityDeal, EntityID: id,
		OldStatus: string(domain.DealAwaitingPayment), NewStatus: string(domain.DealAwaitingShipment),
		UserIDs: []string{"buyer", "seller"}, OccurredAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestStreamSink_AppendsOnce(t *testing.T) {
	rdb := newFakeRedis()
	sink := notify.NewStreamSink(rdb, "lotbuy:events")
	ctx := context.Background()
	e := streamEvent("d1")

	for i := 0; i < 2; i++ {
		if err := sink.Deliver(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if len(rdb.entries) != 1 {
		t.Fatalf("entries = %d", len(rdb.entries))
	}
	if got := rdb.entries[0]["key"]; got != e.Key() {
		t.Fatalf("entry key = %v", got)
	}
	if _, ok := rdb.keys["lotbuy:events:sent:"+e.Key()]; !ok {
		t.Fatalf("marker not written: %v", rdb.keys)
	}
}

// A failed append leaves no marker, so the dispatcher's retry still lands.
func TestStreamSink_FailedAppendIsRetried(t *testing.T) {
	rdb := newFakeRedis()
	rdb.xaddErr = errors.New("connection reset")
	sink := notify.NewStreamSink(rdb, "lotbuy:events")
	ctx := context.Background()
	e := streamEvent("d2")

	if err := sink.Deliver(ctx, e); err == nil {
		t.Fatal("append failure not reported")
	}
	if len(rdb.keys) != 0 {
		t.Fatalf("marker written before append: %v", rdb.keys)
	}

	rdb.xaddErr = nil
	if err := sink.Deliver(ctx, e); err != nil {
		t.Fatal(err)
	}
	if len(rdb.entries) != 1 {
		t.Fatalf("entries = %d", len(rdb.entries))
	}
}

// Once the entry is in the stream a marker failure is not a delivery failure.
func TestStreamSink_MarkerFailureKeepsEntry(t *testing.T) {
	old := log.Writer()
	log.SetOutput(io.Discard)
	t.Cleanup(func() { log.SetOutput(old) })

	rdb := newFakeRedis()
	rdb.setErr = errors.New("READONLY")
	sink := notify.NewStreamSink(rdb, "lotbuy:events")

	if err := sink.Deliver(context.Background(), streamEvent("d3")); err != nil {
		t.Fatalf("delivered entry reported as failed: %v", err)
	}
	if len(rdb.entries) != 1 {
		t.Fatalf("entries = %d", len(rdb.entries))
	}
}
