package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"geosearch/internal/boundary"
	"geosearch/internal/geo"
)

type BoundaryLookup interface {
	Resolve(ctx context.Context, t boundary.Target) (*boundary.Boundary, error)
}

// 文档注释：边界查询接口
// 背景：按名称（name）或坐标（lng/lat）查询地点边界，返回可直接作为地图数据源的 GeoJSON；不修改地图状态。
// 约束：坐标优先于名称；无边界返回 404；坐标非法返回 400。
func boundaryHandler(res BoundaryLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		t := boundary.Target{Name: q.Get("name")}
		if q.Has("lng") || q.Has("lat") {
			p, err := parseLngLat(q.Get("lng"), q.Get("lat"))
			if err != nil {
				writeError(w, err)
				return
			}
			t.Point = &p
		}
		if t.Point == nil && t.Name == "" {
			writeError(w, fmt.Errorf("%w: name or lng/lat required", errBadRequest))
			return
		}
		b, err := res.Resolve(r.Context(), t)
		if err != nil {
			writeError(w, err)
			return
		}
		if b == nil {
			writeError(w, errNoBoundary)
			return
		}
		writeJSON(w, http.StatusOK, b.FeatureCollection())
	}
}

func parseLngLat(lngS, latS string) (geo.Point, error) {
	lng, err1 := strconv.ParseFloat(lngS, 64)
	lat, err2 := strconv.ParseFloat(latS, 64)
	p := geo.Point{Lng: lng, Lat: lat}
	if err1 != nil || err2 != nil || !p.Valid() {
		return geo.Point{}, fmt.Errorf("%w: invalid lng/lat %q,%q", errBadRequest, lngS, latS)
	}
	return p, nil
}
