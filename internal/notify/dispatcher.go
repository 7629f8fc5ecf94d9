// Package notify delivers committed transition events from the outbox to
// downstream consumers (in-app inbox, Redis stream, webhook, read models).
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lotbuy/internal/domain"
	applog "lotbuy/internal/log"
	"lotbuy/internal/repos"
)

// Sink consumes transition events. Deliver may see the same event more than
// once and must treat repeats as no-ops, keyed by Event.Key().
type Sink interface {
	Deliver(ctx context.Context, e domain.Event) error
	Name() string
}

// Dispatcher drains the outbox in sequence order. An event is marked
// dispatched only after every sink accepted it; on failure the batch stops so
// later events never overtake an earlier one.
type Dispatcher struct {
	events    *repos.EventRepo
	sinks     []Sink
	interval  time.Duration
	batchSize int
	// MaxAttempts parks an event after this many failed rounds. Zero retries
	// forever.
	MaxAttempts int
	Now         func() time.Time
}

func NewDispatcher(events *repos.EventRepo, sinks []Sink, interval time.Duration, batchSize int) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		events:      events,
		sinks:       sinks,
		interval:    interval,
		batchSize:   batchSize,
		MaxAttempts: 20,
		Now:         time.Now,
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	applog.Event("dispatcher", "start", map[string]any{"sinks": d.sinkNames(), "interval": d.interval.String()})
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		// Drain fully before sleeping so a burst does not wait a tick per batch.
		for {
			n, err := d.DispatchOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					applog.Fail("dispatcher", "dispatch", err, nil)
				}
				break
			}
			if n < d.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			applog.Event("dispatcher", "stop", nil)
			return nil
		case <-t.C:
		}
	}
}

// DispatchOnce delivers one batch and returns how many events were
// completed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.events.Pending(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	done := 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if derr := d.deliver(ctx, e); derr != nil {
			if d.MaxAttempts > 0 && e.Attempts+1 >= d.MaxAttempts {
				applog.Fail("dispatcher", "park", derr, map[string]any{"seq": e.Seq, "key": e.Key(), "attempts": e.Attempts + 1})
				if err := d.events.Park(ctx, e.Seq, d.Now(), derr.Error()); err != nil {
					return done, err
				}
				done++
				continue
			}
			if err := d.events.RecordFailure(ctx, e.Seq, derr.Error()); err != nil {
				return done, err
			}
			return done, fmt.Errorf("event %d (%s): %w", e.Seq, e.Key(), derr)
		}
		if err := d.events.MarkDispatched(ctx, e.Seq, d.Now()); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

// deliver hands e to every sink; one sink failing does not skip the rest.
func (d *Dispatcher) deliver(ctx context.Context, e domain.Event) error {
	var errs []string
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d sink(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (d *Dispatcher) sinkNames() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}
