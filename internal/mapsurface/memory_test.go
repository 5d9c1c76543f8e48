package mapsurface

import (
	"errors"
	"testing"

	"geosearch/internal/geo"
	"geosearch/internal/overlay"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestSourceInUseCannotBeRemoved(t *testing.T) {
	m := New()
	if err := m.AddSource("s", geojson.NewFeatureCollection()); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLayer(overlay.LayerSpec{ID: "l", Type: "fill", Source: "s"}, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveSource("s"); !errors.Is(err, ErrSourceInUse) {
		t.Fatalf("err = %v", err)
	}
	if err := m.RemoveLayer("l"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveSource("s"); err != nil {
		t.Fatal(err)
	}
	if st := m.State(); len(st.Sources) != 0 || len(st.Layers) != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestRemovingMissingItemsIsNotAnError(t *testing.T) {
	m := New()
	if err := m.RemoveLayer("nope"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveSource("nope"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveMarker("nope"); err != nil {
		t.Fatal(err)
	}
	if len(m.Ops()) != 0 {
		t.Fatalf("ops = %v", m.Ops())
	}
}

func TestLayerNeedsKnownSourceAndUniqueID(t *testing.T) {
	m := New()
	if err := m.AddLayer(overlay.LayerSpec{ID: "l", Source: "missing"}, ""); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("err = %v", err)
	}
	_ = m.AddSource("s", geojson.NewFeatureCollection())
	_ = m.AddLayer(overlay.LayerSpec{ID: "a", Source: "s"}, "")
	_ = m.AddLayer(overlay.LayerSpec{ID: "b", Source: "s"}, "a")
	if err := m.AddLayer(overlay.LayerSpec{ID: "a", Source: "s"}, ""); !errors.Is(err, ErrDuplicateLayer) {
		t.Fatalf("err = %v", err)
	}
	if err := m.AddSource("s", nil); !errors.Is(err, ErrDuplicateSource) {
		t.Fatalf("err = %v", err)
	}
	st := m.State()
	if len(st.Layers) != 2 || st.Layers[0].ID != "b" || st.Layers[1].ID != "a" {
		t.Fatalf("layers = %+v", st.Layers)
	}
}

func TestMarkersGetDistinctHandles(t *testing.T) {
	m := New()
	p := geo.Point{Lng: 121, Lat: 14.5}
	a, err := m.AddMarker(p, overlay.MarkerStyle{Kind: geo.KindStartup}, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.AddMarker(p, overlay.MarkerStyle{Kind: geo.KindInvestor}, nil)
	if a == b || a == "" {
		t.Fatalf("handles %q %q", a, b)
	}
	if m.MarkersOfKind(geo.KindStartup) != 1 || m.MarkersOfKind(geo.KindInvestor) != 1 {
		t.Fatal("kind counts wrong")
	}
	if _, err := m.AddMarker(geo.Point{Lng: 0, Lat: 95}, overlay.MarkerStyle{}, nil); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("err = %v", err)
	}
	_ = m.RemoveMarker(a)
	if len(m.State().Markers) != 1 {
		t.Fatal("marker not removed")
	}
}

func TestFitBoundsAndTerrain(t *testing.T) {
	m := New()
	b := orb.Bound{Min: orb.Point{120, 14}, Max: orb.Point{121, 15}}
	if err := m.FitBounds(b, 50); err != nil {
		t.Fatal(err)
	}
	if err := m.FitBounds(orb.Bound{Min: orb.Point{2, 2}, Max: orb.Point{1, 1}}, 0); !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("err = %v", err)
	}
	_ = m.SetTerrain(&overlay.Terrain{Source: "dem", Exaggeration: 1.5})
	_ = m.SetLayerVisibility("3d-buildings", true)
	st := m.State()
	if st.LastFit == nil || st.LastFit.Bound != b || st.LastFit.Padding != 50 {
		t.Fatalf("fit = %+v", st.LastFit)
	}
	if st.Terrain == nil || st.Terrain.Exaggeration != 1.5 || !st.Visibility["3d-buildings"] {
		t.Fatalf("state = %+v", st)
	}
	_ = m.SetTerrain(nil)
	if m.State().Terrain != nil {
		t.Fatal("terrain not cleared")
	}
}
