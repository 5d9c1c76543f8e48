// 包 geocoder：远程地点检索/反地理服务的 HTTP JSON 客户端（Mapbox Geocoding v5 兼容接口）
package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"geosearch/internal/geo"
	"geosearch/internal/logger"
	"geosearch/internal/metrics"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrProviderFailure：传输错误、非 2xx、JSON 解析失败统一归为此类，调用方降级处理
var ErrProviderFailure = errors.New("geocoding provider failure")

// DefaultPlaceTypes：搜索建议使用的地点类型
var DefaultPlaceTypes = []string{"place", "locality", "address", "poi"}

// Searcher：正向检索与反地理检索契约；Client 与 Cached 均实现
type Searcher interface {
	Forward(ctx context.Context, req ForwardRequest) ([]Feature, error)
	Reverse(ctx context.Context, req ReverseRequest) ([]Feature, error)
}

// 文档注释：正向检索请求
// 约束：Limit<=0 时不下发 limit 参数，由服务端决定；Proximity 为空时不做地理偏置。
type ForwardRequest struct {
	Query     string
	Country   string
	Types     []string
	Proximity *geo.Point
	Limit     int
}

type ReverseRequest struct {
	Point geo.Point
	Types []string
	Limit int
}

// 文档注释：检索结果要素
// 背景：仅保留本方案需要的字段；Geometry 为点或面（Polygon/MultiPolygon），BBox 可为空。
type Feature struct {
	ID        string
	Text      string
	PlaceName string
	PlaceType []string
	Category  string
	Center    geo.Point
	BBox      *orb.Bound
	Geometry  orb.Geometry
}

// wireFeature：服务端返回格式，同时用作缓存序列化格式
type wireFeature struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	PlaceName  string            `json:"place_name"`
	PlaceType  []string          `json:"place_type,omitempty"`
	Properties map[string]any    `json:"properties,omitempty"`
	Center     []float64         `json:"center"`
	BBox       []float64         `json:"bbox,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
}

type wireResponse struct {
	Features []wireFeature `json:"features"`
}

func (f Feature) MarshalJSON() ([]byte, error) {
	w := wireFeature{
		ID:        f.ID,
		Text:      f.Text,
		PlaceName: f.PlaceName,
		PlaceType: f.PlaceType,
		Center:    []float64{f.Center.Lng, f.Center.Lat},
	}
	if f.Category != "" {
		w.Properties = map[string]any{"category": f.Category}
	}
	if f.BBox != nil {
		w.BBox = []float64{f.BBox.Min.Lon(), f.BBox.Min.Lat(), f.BBox.Max.Lon(), f.BBox.Max.Lat()}
	}
	if f.Geometry != nil {
		w.Geometry = geojson.NewGeometry(f.Geometry)
	}
	return json.Marshal(w)
}

func (f *Feature) UnmarshalJSON(b []byte) error {
	var w wireFeature
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*f = w.feature()
	return nil
}

func (w wireFeature) feature() Feature {
	f := Feature{ID: w.ID, Text: w.Text, PlaceName: w.PlaceName, PlaceType: w.PlaceType}
	if c, ok := w.Properties["category"].(string); ok {
		f.Category = c
	}
	if w.Geometry != nil {
		f.Geometry = w.Geometry.Geometry()
	}
	if len(w.Center) >= 2 {
		f.Center = geo.Point{Lng: w.Center[0], Lat: w.Center[1]}
	} else if p, ok := f.Geometry.(orb.Point); ok {
		f.Center = geo.FromOrb(p)
	} else if f.Geometry != nil {
		f.Center = geo.FromOrb(f.Geometry.Bound().Center())
	}
	if len(w.BBox) == 4 {
		f.BBox = &orb.Bound{Min: orb.Point{w.BBox[0], w.BBox[1]}, Max: orb.Point{w.BBox[2], w.BBox[3]}}
	}
	return f
}

// 文档注释：HTTP 客户端
// 背景：对齐 Mapbox 风格接口（/{query}.json?access_token=...）；便于替换为自建兼容服务。
// 约束：客户端不做重试；超时与取消由 ctx 与 http.Client 控制。
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

// NewClient：hc 为空时使用 5s 超时的默认客户端
func NewClient(baseURL, token string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, hc: hc}
}

// 文档注释：正向检索
// 返回：按服务端排序的要素列表；零结果返回空切片与 nil 错误（NoMatch 不是错误）。
func (c *Client) Forward(ctx context.Context, req ForwardRequest) ([]Feature, error) {
	q := url.Values{}
	if req.Country != "" {
		q.Set("country", req.Country)
	}
	if len(req.Types) > 0 {
		q.Set("types", strings.Join(req.Types, ","))
	}
	if req.Proximity != nil {
		q.Set("proximity", coord(req.Proximity.Lng)+","+coord(req.Proximity.Lat))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	return c.do(ctx, "forward", url.PathEscape(strings.TrimSpace(req.Query)), q)
}

// Reverse：反地理检索，坐标按 lng,lat 放入路径
func (c *Client) Reverse(ctx context.Context, req ReverseRequest) ([]Feature, error) {
	if !req.Point.Valid() {
		return nil, fmt.Errorf("%w: reverse: invalid point %s", ErrProviderFailure, req.Point)
	}
	q := url.Values{}
	if len(req.Types) > 0 {
		q.Set("types", strings.Join(req.Types, ","))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	return c.do(ctx, "reverse", coord(req.Point.Lng)+","+coord(req.Point.Lat), q)
}

func (c *Client) do(ctx context.Context, op, path string, q url.Values) ([]Feature, error) {
	if c.token != "" {
		q.Set("access_token", c.token)
	}
	u := c.baseURL + "/" + path + ".json?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailure, op, err)
	}
	l := logger.For("geocoder")
	t0 := time.Now()
	metrics.GeocoderRequestsTotal.WithLabelValues(op).Inc()
	defer func() { metrics.GeocoderDurationMs.WithLabelValues(op).Observe(float64(time.Since(t0).Milliseconds())) }()
	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.GeocoderFailTotal.WithLabelValues(op).Inc()
		l.Debug("geocoder_http_error", "op", op, "err", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailure, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		metrics.GeocoderFailTotal.WithLabelValues(op).Inc()
		l.Warn("geocoder_bad_status", "op", op, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s: status %d", ErrProviderFailure, op, resp.StatusCode)
	}
	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		metrics.GeocoderFailTotal.WithLabelValues(op).Inc()
		l.Warn("geocoder_decode_error", "op", op, "err", err)
		return nil, fmt.Errorf("%w: %s: decode: %w", ErrProviderFailure, op, err)
	}
	out := make([]Feature, 0, len(wr.Features))
	for _, w := range wr.Features {
		out = append(out, w.feature())
	}
	l.Debug("geocoder_resp", "op", op, "features", len(out), "duration_ms", time.Since(t0).Milliseconds())
	return out, nil
}

func coord(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
