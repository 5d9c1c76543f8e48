// 包 boundary：解析地点的边界多边形；服务端无面几何时以圆形多边形近似
package boundary

import (
	"context"
	"errors"
	"math"
	"strings"

	"geosearch/internal/geo"
	"geosearch/internal/geocoder"
	"geosearch/internal/logger"
	"geosearch/internal/metrics"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	CircleVertices = 64
	CircleRadius   = 0.05 // 度
)

// BoundaryPlaceTypes：边界检索使用的行政/地点类型
var BoundaryPlaceTypes = []string{"place", "region", "district", "locality"}

// 文档注释：解析目标
// 约束：Point 非空时按坐标反查，否则按名称正向检索；两者皆空视为无边界。
type Target struct {
	Name  string
	Point *geo.Point
}

// 文档注释：可渲染的边界
// 背景：Geometry 为服务端返回的 Polygon/MultiPolygon 原样几何，或合成的圆（Synthesized=true）。
// 约束：BBox 仅在服务端给出包围盒时非空，调用方据此调整视野。
type Boundary struct {
	Geometry    orb.Geometry
	BBox        *orb.Bound
	Center      geo.Point
	Label       string
	Synthesized bool
}

// FeatureCollection：作为地图数据源的 GeoJSON
func (b *Boundary) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(b.Geometry)
	f.Properties["name"] = b.Label
	f.Properties["synthesized"] = b.Synthesized
	fc.Append(f)
	return fc
}

type Resolver struct {
	places  geocoder.Searcher
	country string
	types   []string
}

func NewResolver(places geocoder.Searcher, country string) *Resolver {
	return &Resolver{places: places, country: country, types: BoundaryPlaceTypes}
}

// 文档注释：解析边界
// 返回：
// - 面几何要素：原样返回；
// - 仅有点的要素：以要素中心合成 64 边、半径 0.05° 的闭合圆；
// - 无要素：(nil, nil)，调用方视为无边界，不是错误；
// - 服务端失败：(nil, err)，err 包装 geocoder.ErrProviderFailure，调用方记录日志并视为无边界。
func (r *Resolver) Resolve(ctx context.Context, t Target) (*Boundary, error) {
	var (
		fs  []geocoder.Feature
		err error
	)
	switch {
	case t.Point != nil:
		fs, err = r.places.Reverse(ctx, geocoder.ReverseRequest{Point: *t.Point, Types: r.types, Limit: 1})
	case strings.TrimSpace(t.Name) != "":
		fs, err = r.places.Forward(ctx, geocoder.ForwardRequest{Query: t.Name, Country: r.country, Types: r.types, Limit: 1})
	default:
		metrics.BoundaryTotal.WithLabelValues("none").Inc()
		return nil, nil
	}
	l := logger.For("boundary")
	if err != nil {
		metrics.BoundaryTotal.WithLabelValues("error").Inc()
		if !errors.Is(err, context.Canceled) {
			l.Warn("boundary_lookup_error", "name", t.Name, "err", err)
		}
		return nil, err
	}
	if len(fs) == 0 {
		metrics.BoundaryTotal.WithLabelValues("none").Inc()
		l.Debug("boundary_no_match", "name", t.Name)
		return nil, nil
	}
	b := FromFeature(fs[0])
	if b == nil {
		metrics.BoundaryTotal.WithLabelValues("none").Inc()
		return nil, nil
	}
	if b.Synthesized {
		metrics.BoundaryTotal.WithLabelValues("circle").Inc()
	} else {
		metrics.BoundaryTotal.WithLabelValues("polygon").Inc()
	}
	l.Debug("boundary_resolved", "label", b.Label, "synthesized", b.Synthesized)
	return b, nil
}

// FromFeature：要素转边界；中心点非法且无面几何时返回 nil
func FromFeature(f geocoder.Feature) *Boundary {
	b := &Boundary{BBox: f.BBox, Center: f.Center, Label: f.PlaceName}
	switch g := f.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
		b.Geometry = g
		return b
	case orb.Point:
		if !f.Center.Valid() {
			b.Center = geo.FromOrb(g)
		}
	}
	if !b.Center.Valid() {
		return nil
	}
	b.Geometry = Circle(b.Center, CircleRadius, CircleVertices)
	b.Synthesized = true
	return b
}

// 文档注释：圆形多边形近似
// 背景：在经纬度平面上按等角步长采样 n 个顶点，第一个顶点在末尾重复以闭合环。
// 约束：半径单位为度；不做墨卡托或球面校正，高纬度下视觉上会呈椭圆。
func Circle(center geo.Point, radius float64, n int) orb.Polygon {
	ring := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		a := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{center.Lng + radius*math.Cos(a), center.Lat + radius*math.Sin(a)})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}
