package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"geosearch/internal/geo"

	"github.com/paulmach/orb"
)

const cebuBody = `{"type":"FeatureCollection","features":[{
  "id":"place.123","type":"Feature","place_type":["place"],
  "text":"Cebu City","place_name":"Cebu City, Cebu, Philippines",
  "properties":{"category":"city"},
  "center":[123.9,10.3],
  "bbox":[123.75,10.25,124.0,10.5],
  "geometry":{"type":"Polygon","coordinates":[[[123.8,10.2],[124.0,10.2],[124.0,10.4],[123.8,10.4],[123.8,10.2]]]}
}]}`

func TestForwardBuildsRequest(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		_, _ = w.Write([]byte(cebuBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", srv.Client())
	fs, err := c.Forward(context.Background(), ForwardRequest{
		Query:     "Cebu City",
		Country:   "ph",
		Types:     DefaultPlaceTypes,
		Proximity: &geo.Point{Lng: 121.0, Lat: 14.5},
		Limit:     3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.URL.Path != "/Cebu City.json" {
		t.Errorf("path = %q", got.URL.Path)
	}
	q := got.URL.Query()
	if q.Get("country") != "ph" || q.Get("limit") != "3" || q.Get("access_token") != "tok" {
		t.Errorf("query = %v", q)
	}
	if q.Get("types") != "place,locality,address,poi" || q.Get("proximity") != "121,14.5" {
		t.Errorf("query = %v", q)
	}
	if len(fs) != 1 {
		t.Fatalf("features = %d", len(fs))
	}
	f := fs[0]
	if f.PlaceName != "Cebu City, Cebu, Philippines" || f.Category != "city" || f.Center != (geo.Point{Lng: 123.9, Lat: 10.3}) {
		t.Errorf("feature = %+v", f)
	}
	if f.BBox == nil || f.BBox.Min != (orb.Point{123.75, 10.25}) || f.BBox.Max != (orb.Point{124.0, 10.5}) {
		t.Errorf("bbox = %v", f.BBox)
	}
	if _, ok := f.Geometry.(orb.Polygon); !ok {
		t.Errorf("geometry = %T", f.Geometry)
	}
}

func TestReversePutsPointInPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()
	fs, err := NewClient(srv.URL, "", nil).Reverse(context.Background(), ReverseRequest{Point: geo.Point{Lng: 123.9, Lat: 10.3}, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(fs) != 0 {
		t.Fatalf("features = %v", fs)
	}
	if path != "/123.9,10.3.json" {
		t.Errorf("path = %q", path)
	}
}

func TestFailuresAreProviderFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) },
		"json":   func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{not json")) },
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			_, err := NewClient(srv.URL, "", nil).Forward(context.Background(), ForwardRequest{Query: "cebu"})
			if !errors.Is(err, ErrProviderFailure) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestCancelledContextIsProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL, "", nil).Forward(ctx, ForwardRequest{Query: "cebu"})
	if !errors.Is(err, ErrProviderFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestFeatureJSONRoundTripKeepsGeometry(t *testing.T) {
	var wr wireResponse
	if err := json.Unmarshal([]byte(cebuBody), &wr); err != nil {
		t.Fatal(err)
	}
	in := wr.Features[0].feature()
	b, err := json.Marshal([]Feature{in})
	if err != nil {
		t.Fatal(err)
	}
	var out []Feature
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].PlaceName != in.PlaceName || out[0].BBox == nil {
		t.Fatalf("out = %+v", out)
	}
	if !orb.Equal(out[0].Geometry, in.Geometry) {
		t.Fatalf("geometry changed: %v vs %v", out[0].Geometry, in.Geometry)
	}
}

func TestCachedServesRepeatsLocally(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(cebuBody))
	}))
	defer srv.Close()
	c := NewCached(NewClient(srv.URL, "", nil), NewLRU(8, time.Minute), nil, 0)
	req := ForwardRequest{Query: "Cebu", Country: "ph", Limit: 3}
	for i := 0; i < 3; i++ {
		fs, err := c.Forward(context.Background(), req)
		if err != nil || len(fs) != 1 {
			t.Fatalf("forward #%d: %v %v", i, fs, err)
		}
	}
	req.Query = "  cebu "
	if _, err := c.Forward(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("provider calls = %d, want 1", n)
	}
}

func TestCachedDoesNotCacheFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewCached(NewClient(srv.URL, "", nil), nil, nil, 0)
	for i := 0; i < 2; i++ {
		if _, err := c.Forward(context.Background(), ForwardRequest{Query: "x"}); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("provider calls = %d, want 2", n)
	}
}

func TestLRUReturnsIndependentCopies(t *testing.T) {
	c := NewLRU(4, time.Minute)
	in := []Feature{{
		ID:        "place.cebu",
		PlaceType: []string{"place"},
		BBox:      &orb.Bound{Min: orb.Point{123.75, 10.25}, Max: orb.Point{124, 10.5}},
		Geometry:  orb.Polygon{{{123.75, 10.25}, {124, 10.25}, {124, 10.5}, {123.75, 10.25}}},
	}}
	c.Set("k", in)
	in[0].ID = "changed"

	got, ok := c.Get("k")
	if !ok || got[0].ID != "place.cebu" {
		t.Fatalf("get = %+v %v", got, ok)
	}
	got[0].PlaceType[0] = "poi"
	got[0].BBox.Min[0] = 0
	got[0].Geometry.(orb.Polygon)[0][0][0] = 0

	again, _ := c.Get("k")
	if again[0].PlaceType[0] != "place" || again[0].BBox.Min[0] != 123.75 || again[0].Geometry.(orb.Polygon)[0][0][0] != 123.75 {
		t.Fatalf("cached entry mutated: %+v", again[0])
	}
}

func TestLRUEvictsAndExpires(t *testing.T) {
	c := NewLRU(2, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	c.Set("a", []Feature{{ID: "a"}})
	c.Set("b", []Feature{{ID: "b"}})
	c.Get("a")
	c.Set("c", []Feature{{ID: "c"}})
	if _, ok := c.Get("b"); ok {
		t.Error("b should be evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should survive")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("a should be expired")
	}
	if c.Len() != 1 {
		t.Errorf("len = %d", c.Len())
	}
}

func TestGeohashKnownValue(t *testing.T) {
	if got := encodeGeohash(57.64911, 10.40744, 11); got != "u4pruydqqvj" {
		t.Fatalf("geohash = %s", got)
	}
	if !strings.HasPrefix(reverseKey(ReverseRequest{Point: geo.Point{Lng: 10.40744, Lat: 57.64911}}), "geocode:rev:u4pruyd|") {
		t.Fatal("reverse key should use 7-char geohash")
	}
}
