package suggest

import (
	"context"
	"sync"
	"testing"
	"time"

	"geosearch/internal/geo"
	"geosearch/internal/geocoder"
)

type collector struct {
	mu  sync.Mutex
	got []Result
	ch  chan Result
}

func newCollector() *collector { return &collector{ch: make(chan Result, 16)} }

func (c *collector) deliver(r Result) {
	c.mu.Lock()
	c.got = append(c.got, r)
	c.mu.Unlock()
	c.ch <- r
}

func (c *collector) all() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.got...)
}

func (c *collector) next(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery")
		return Result{}
	}
}

func echoPlaces() *fakePlaces {
	return &fakePlaces{fn: func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
		return []geocoder.Feature{{ID: req.Query, Text: req.Query, Center: geo.Point{Lng: 121, Lat: 14}}}, nil
	}}
}

func TestSessionDebounceDeliversOnlyLast(t *testing.T) {
	places := echoPlaces()
	agg := New(&fakeEntities{}, places, Options{Debounce: 40 * time.Millisecond})
	c := newCollector()
	s := NewSession(context.Background(), agg, c.deliver)
	defer s.Close()

	s.Submit(geo.Query{Text: "ce"})
	s.Submit(geo.Query{Text: "ceb"})
	last := s.Submit(geo.Query{Text: "cebu"})

	r := c.next(t)
	if r.Ticket != last || r.Query.Text != "cebu" || len(r.Suggestions) != 1 || r.Suggestions[0].ID != "place:cebu" {
		t.Fatalf("delivered %+v", r)
	}
	time.Sleep(120 * time.Millisecond)
	if n := len(c.all()); n != 1 {
		t.Fatalf("deliveries = %d, want 1", n)
	}
	if n := places.count(); n != 1 {
		t.Fatalf("provider calls = %d, want 1 (superseded timers must not fire)", n)
	}
}

func TestSessionSuppressesLateStaleResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	places := &fakePlaces{fn: func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
		if req.Query == "makati" {
			close(started)
			// ignore cancellation: the response arrives after the newer one
			<-release
		}
		return []geocoder.Feature{{ID: req.Query, Text: req.Query, Center: geo.Point{Lng: 121, Lat: 14}}}, nil
	}}
	agg := New(&fakeEntities{}, places, Options{Debounce: 5 * time.Millisecond})
	c := newCollector()
	s := NewSession(context.Background(), agg, c.deliver)

	s.Submit(geo.Query{Text: "makati"})
	<-started
	second := s.Submit(geo.Query{Text: "pasig"})
	r := c.next(t)
	if r.Ticket != second || r.Query.Text != "pasig" {
		t.Fatalf("delivered %+v", r)
	}
	close(release)
	s.Close()
	for _, r := range c.all() {
		if r.Query.Text == "makati" {
			t.Fatalf("stale result delivered: %+v", r)
		}
	}
}

func TestSessionShortInputIsImmediateAndSupersedes(t *testing.T) {
	places := echoPlaces()
	agg := New(&fakeEntities{}, places, Options{Debounce: 50 * time.Millisecond})
	c := newCollector()
	s := NewSession(context.Background(), agg, c.deliver)
	defer s.Close()

	s.Submit(geo.Query{Text: "cebu"})
	t0 := time.Now()
	short := s.Submit(geo.Query{Text: "c"})
	r := c.next(t)
	if r.Ticket != short || !r.Short || len(r.Suggestions) != 0 {
		t.Fatalf("delivered %+v", r)
	}
	if time.Since(t0) > 40*time.Millisecond {
		t.Fatal("short input waited for the debounce window")
	}
	time.Sleep(120 * time.Millisecond)
	if n := len(c.all()); n != 1 {
		t.Fatalf("deliveries = %d", n)
	}
	if places.count() != 0 {
		t.Fatalf("provider calls = %d", places.count())
	}
}

func TestSessionCancelsInFlightRequest(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{}, 1)
	places := &fakePlaces{fn: func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
		if req.Query == "first" {
			started <- struct{}{}
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}
		return nil, nil
	}}
	agg := New(&fakeEntities{}, places, Options{Debounce: 5 * time.Millisecond})
	c := newCollector()
	s := NewSession(context.Background(), agg, c.deliver)
	defer s.Close()

	s.Submit(geo.Query{Text: "first"})
	<-started
	s.Submit(geo.Query{Text: "second"})
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was not cancelled")
	}
	if r := c.next(t); r.Query.Text != "second" {
		t.Fatalf("delivered %+v", r)
	}
}

func TestSessionIgnoresSubmitAfterClose(t *testing.T) {
	agg := New(&fakeEntities{}, echoPlaces(), Options{Debounce: 5 * time.Millisecond})
	c := newCollector()
	s := NewSession(context.Background(), agg, c.deliver)
	s.Submit(geo.Query{Text: "pending"})
	s.Close()
	if tk := s.Submit(geo.Query{Text: "late"}); tk != 0 {
		t.Fatalf("ticket after close = %d", tk)
	}
	time.Sleep(30 * time.Millisecond)
	if n := len(c.all()); n != 0 {
		t.Fatalf("deliveries after close = %d", n)
	}
}
