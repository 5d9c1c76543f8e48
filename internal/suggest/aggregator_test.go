package suggest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"geosearch/internal/geo"
	"geosearch/internal/geocoder"
)

type fakeEntities struct {
	startups  []geo.Entity
	investors []geo.Entity
}

func match(es []geo.Entity, sub string, limit int) []geo.Entity {
	var out []geo.Entity
	for _, e := range es {
		if strings.Contains(strings.ToLower(e.Name), strings.ToLower(sub)) && len(out) < limit {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeEntities) SearchStartups(sub string, limit int) []geo.Entity {
	return match(f.startups, sub, limit)
}

func (f *fakeEntities) SearchInvestors(sub string, limit int) []geo.Entity {
	return match(f.investors, sub, limit)
}

type fakePlaces struct {
	mu    sync.Mutex
	calls []geocoder.ForwardRequest
	fn    func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error)
}

func (f *fakePlaces) Forward(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, req)
}

func (f *fakePlaces) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func onePlace(name string) func(context.Context, geocoder.ForwardRequest) ([]geocoder.Feature, error) {
	return func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
		return []geocoder.Feature{{ID: "place.1", Text: name, PlaceName: name + ", Philippines", PlaceType: []string{"place"}, Center: geo.Point{Lng: 120.98, Lat: 14.6}}}, nil
	}
}

var techCorp = geo.Entity{ID: "7", Kind: geo.KindStartup, Name: "TechCorp", Industry: "SaaS", Center: geo.Point{Lng: 121.0, Lat: 14.0}}

func ids(ss []geo.Suggestion) string {
	var parts []string
	for _, s := range ss {
		parts = append(parts, s.ID+"("+s.Kind.String()+")")
	}
	return strings.Join(parts, ",")
}

func TestScenarioLocalBeforeRemote(t *testing.T) {
	places := &fakePlaces{fn: onePlace("Tejeros")}
	agg := New(&fakeEntities{startups: []geo.Entity{techCorp}}, places, Options{})
	res := agg.Aggregate(context.Background(), geo.Query{Text: "te", Category: geo.CategoryAll})
	if got := ids(res.Suggestions); got != "startup:7(startup),place:place.1(place)" {
		t.Fatalf("suggestions = %s", got)
	}
	if res.Suggestions[0].Payload == nil || res.Suggestions[0].Payload.Industry != "SaaS" {
		t.Fatalf("startup payload missing: %+v", res.Suggestions[0])
	}
	if res.Suggestions[1].SourceCategory != "place" {
		t.Fatalf("source category = %q", res.Suggestions[1].SourceCategory)
	}
	req := places.calls[0]
	if req.Limit != 3 || req.Country != "ph" || req.Proximity == nil || len(req.Types) != 4 {
		t.Fatalf("place request = %+v", req)
	}
}

func TestShortQueryIssuesNoCalls(t *testing.T) {
	places := &fakePlaces{fn: onePlace("x")}
	agg := New(&fakeEntities{startups: []geo.Entity{techCorp}}, places, Options{})
	for _, text := range []string{"a", " a ", "", "é"} {
		res := agg.Aggregate(context.Background(), geo.Query{Text: text})
		if !res.Short || len(res.Suggestions) != 0 || res.NoMatch() {
			t.Fatalf("%q: %+v", text, res)
		}
	}
	if places.count() != 0 {
		t.Fatalf("provider called %d times", places.count())
	}
}

func TestCategoryFilters(t *testing.T) {
	inv := geo.Entity{ID: "9", Kind: geo.KindInvestor, Name: "Tech Angels", Center: geo.Point{Lng: 123.9, Lat: 10.3}}
	cases := []struct {
		cat        geo.Category
		want       string
		placeCalls int
	}{
		{geo.CategoryAll, "startup:7(startup),investor:9(investor),place:place.1(place)", 1},
		{geo.CategoryStartup, "startup:7(startup)", 0},
		{geo.CategoryInvestor, "investor:9(investor)", 0},
		{geo.CategoryPlace, "place:place.1(place)", 1},
	}
	for _, c := range cases {
		t.Run(c.cat.String(), func(t *testing.T) {
			places := &fakePlaces{fn: onePlace("Tech Park")}
			agg := New(&fakeEntities{startups: []geo.Entity{techCorp}, investors: []geo.Entity{inv}}, places, Options{})
			res := agg.Aggregate(context.Background(), geo.Query{Text: "tech", Category: c.cat})
			if got := ids(res.Suggestions); got != c.want {
				t.Errorf("got %s, want %s", got, c.want)
			}
			if places.count() != c.placeCalls {
				t.Errorf("place calls = %d, want %d", places.count(), c.placeCalls)
			}
		})
	}
}

func TestProviderFailureDegradesToLocal(t *testing.T) {
	places := &fakePlaces{fn: func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
		return nil, fmt.Errorf("%w: status 500", geocoder.ErrProviderFailure)
	}}
	agg := New(&fakeEntities{startups: []geo.Entity{techCorp}}, places, Options{})
	res := agg.Aggregate(context.Background(), geo.Query{Text: "tech"})
	if got := ids(res.Suggestions); got != "startup:7(startup)" {
		t.Fatalf("got %s", got)
	}
	if !res.Degraded() || !errors.Is(res.PlaceErr, geocoder.ErrProviderFailure) {
		t.Fatalf("place err = %v", res.PlaceErr)
	}
}

func TestNoMatchIsNotAnError(t *testing.T) {
	agg := New(&fakeEntities{}, &fakePlaces{}, Options{})
	res := agg.Aggregate(context.Background(), geo.Query{Text: "zzzz"})
	if !res.NoMatch() || res.Degraded() || res.Suggestions == nil {
		t.Fatalf("%+v", res)
	}
}

func TestInvalidCentersAreDropped(t *testing.T) {
	bad := []geo.Entity{
		{ID: "1", Kind: geo.KindStartup, Name: "Tech North", Center: geo.Point{Lng: 121, Lat: 91}},
		{ID: "2", Kind: geo.KindStartup, Name: "Tech West", Center: geo.Point{Lng: -181, Lat: 0}},
		{ID: "3", Kind: geo.KindStartup, Name: "Tech Null", Center: geo.Point{Lng: math.NaN(), Lat: math.NaN()}},
	}
	places := &fakePlaces{fn: func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
		return []geocoder.Feature{
			{ID: "ok", Text: "Tech Park", Center: geo.Point{Lng: 121, Lat: 14}},
			{ID: "bad", Text: "Nowhere", Center: geo.Point{Lng: 200, Lat: 14}},
		}, nil
	}}
	agg := New(&fakeEntities{startups: append(bad, techCorp)}, places, Options{LocalLimit: 10})
	res := agg.Aggregate(context.Background(), geo.Query{Text: "tech"})
	if got := ids(res.Suggestions); got != "startup:7(startup),place:ok(place)" {
		t.Fatalf("got %s", got)
	}
}

func TestSourcesRunConcurrently(t *testing.T) {
	started := make(chan struct{})
	places := &fakePlaces{fn: func(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	}}
	ents := &blockingEntities{started: started}
	agg := New(ents, places, Options{})
	done := make(chan Result, 1)
	go func() { done <- agg.Aggregate(context.Background(), geo.Query{Text: "tech", Category: geo.CategoryAll}) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("local search waited on a remote call that waited on it")
	}
}

// blockingEntities only answers once the remote search has started, which
// deadlocks if the sources run one after another.
type blockingEntities struct{ started chan struct{} }

func (b *blockingEntities) SearchStartups(sub string, limit int) []geo.Entity {
	<-b.started
	return nil
}

func (b *blockingEntities) SearchInvestors(sub string, limit int) []geo.Entity {
	<-b.started
	return nil
}
