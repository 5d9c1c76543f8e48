// 包 suggest：多来源搜索建议聚合（本地目录 + 远程地点检索），以及带防抖与过期结果抑制的会话
package suggest

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"geosearch/internal/geo"
	"geosearch/internal/geocoder"
	"geosearch/internal/logger"
	"geosearch/internal/metrics"
)

// EntitySearcher：本地目录检索（同步，不挂起）
type EntitySearcher interface {
	SearchStartups(sub string, limit int) []geo.Entity
	SearchInvestors(sub string, limit int) []geo.Entity
}

// PlaceSearcher：远程地点检索
type PlaceSearcher interface {
	Forward(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error)
}

// 文档注释：聚合参数
// 约束：零值字段在 New 中回退到默认值（2 字符门槛、各来源 3 条、菲律宾国家过滤、马尼拉偏置、300ms 防抖）。
type Options struct {
	MinQueryLen int
	LocalLimit  int
	PlaceLimit  int
	Country     string
	PlaceTypes  []string
	Proximity   *geo.Point
	Debounce    time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinQueryLen <= 0 {
		o.MinQueryLen = 2
	}
	if o.LocalLimit <= 0 {
		o.LocalLimit = 3
	}
	if o.PlaceLimit <= 0 {
		o.PlaceLimit = 3
	}
	if o.Country == "" {
		o.Country = "ph"
	}
	if len(o.PlaceTypes) == 0 {
		o.PlaceTypes = geocoder.DefaultPlaceTypes
	}
	if o.Proximity == nil {
		o.Proximity = &geo.Point{Lng: 121.0244, Lat: 14.5547}
	}
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	return o
}

// 文档注释：一次聚合的结果
// 背景：区分“输入过短”“无匹配”“远程来源降级”，调用方据此决定展示，三者在界面上都表现为“无结果”。
// 约束：PlaceErr 非空表示地点来源失败已降级为仅本地结果，属非致命状态。
type Result struct {
	Ticket      uint64           `json:"ticket"`
	Query       geo.Query        `json:"query"`
	Suggestions []geo.Suggestion `json:"suggestions"`
	Short       bool             `json:"short,omitempty"`
	PlaceErr    error            `json:"-"`
}

// NoMatch：查询已执行但没有任何候选
func (r Result) NoMatch() bool { return !r.Short && len(r.Suggestions) == 0 }

// Degraded：远程地点来源失败
func (r Result) Degraded() bool { return r.PlaceErr != nil }

type Aggregator struct {
	entities EntitySearcher
	places   PlaceSearcher
	opts     Options
}

func New(entities EntitySearcher, places PlaceSearcher, opts Options) *Aggregator {
	return &Aggregator{entities: entities, places: places, opts: opts.withDefaults()}
}

func (a *Aggregator) Options() Options { return a.opts }

// IsShort：去除首尾空白后字符数低于门槛
func (a *Aggregator) IsShort(q geo.Query) bool {
	return utf8.RuneCountInString(strings.TrimSpace(q.Text)) < a.opts.MinQueryLen
}

// 文档注释：聚合查询
// 背景：三个来源并发执行，合并顺序固定为 startups → investors → places，本地结果始终排在远程结果之前。
// 约束：从不返回错误；远程失败记录在 Result.PlaceErr；坐标非法的候选被丢弃。
func (a *Aggregator) Aggregate(ctx context.Context, q geo.Query) Result {
	res := Result{Query: q, Suggestions: []geo.Suggestion{}}
	if a.IsShort(q) {
		metrics.SuggestShortTotal.Inc()
		res.Short = true
		return res
	}
	t0 := time.Now()
	metrics.SuggestRequestsTotal.WithLabelValues(q.Category.String()).Inc()
	text := strings.TrimSpace(q.Text)
	l := logger.For("suggest")

	var (
		wg                          sync.WaitGroup
		startups, investors, places []geo.Suggestion
		placeErr                    error
	)
	if q.Category == geo.CategoryAll || q.Category == geo.CategoryStartup {
		wg.Add(1)
		go func() {
			defer wg.Done()
			startups = fromEntities(a.entities.SearchStartups(text, a.opts.LocalLimit))
		}()
	}
	if q.Category == geo.CategoryAll || q.Category == geo.CategoryInvestor {
		wg.Add(1)
		go func() {
			defer wg.Done()
			investors = fromEntities(a.entities.SearchInvestors(text, a.opts.LocalLimit))
		}()
	}
	if a.places != nil && (q.Category == geo.CategoryAll || q.Category == geo.CategoryPlace) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fs, err := a.places.Forward(ctx, geocoder.ForwardRequest{
				Query:     text,
				Country:   a.opts.Country,
				Types:     a.opts.PlaceTypes,
				Proximity: a.opts.Proximity,
				Limit:     a.opts.PlaceLimit,
			})
			if err != nil {
				placeErr = err
				return
			}
			places = fromFeatures(fs)
		}()
	}
	wg.Wait()

	if placeErr != nil {
		res.PlaceErr = placeErr
		if ctx.Err() != nil {
			l.Debug("suggest_place_cancelled", "category", q.Category.String())
		} else {
			l.Warn("suggest_place_error", "category", q.Category.String(), "err", placeErr)
		}
	}

	var merged []geo.Suggestion
	switch q.Category {
	case geo.CategoryStartup:
		merged = startups
	case geo.CategoryInvestor:
		merged = investors
	case geo.CategoryPlace:
		merged = places
	default:
		merged = make([]geo.Suggestion, 0, len(startups)+len(investors)+len(places))
		merged = append(merged, startups...)
		merged = append(merged, investors...)
		merged = append(merged, places...)
	}
	for _, s := range merged {
		if !s.Center.Valid() {
			metrics.SuggestDroppedTotal.Inc()
			l.Debug("suggest_invalid_center_dropped", "id", s.ID, "center", s.Center.String())
			continue
		}
		res.Suggestions = append(res.Suggestions, s)
	}
	if len(res.Suggestions) == 0 {
		metrics.SuggestEmptyTotal.Inc()
	}
	metrics.SuggestDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	l.Debug("suggest_done", "category", q.Category.String(), "startups", len(startups), "investors", len(investors), "places", len(places), "returned", len(res.Suggestions))
	return res
}

func fromEntities(es []geo.Entity) []geo.Suggestion {
	out := make([]geo.Suggestion, 0, len(es))
	for _, e := range es {
		out = append(out, geo.FromEntity(e))
	}
	return out
}

func fromFeatures(fs []geocoder.Feature) []geo.Suggestion {
	out := make([]geo.Suggestion, 0, len(fs))
	for _, f := range fs {
		out = append(out, PlaceSuggestion(f))
	}
	return out
}

// PlaceSuggestion：地点要素转候选项；子类别优先取 properties.category，否则取首个 place_type
func PlaceSuggestion(f geocoder.Feature) geo.Suggestion {
	cat := f.Category
	if cat == "" && len(f.PlaceType) > 0 {
		cat = f.PlaceType[0]
	}
	display := f.Text
	if display == "" {
		display = f.PlaceName
	}
	full := f.PlaceName
	if full == "" {
		full = display
	}
	return geo.Suggestion{
		ID:             "place:" + f.ID,
		DisplayText:    display,
		FullLabel:      full,
		Center:         f.Center,
		Kind:           geo.KindPlace,
		SourceCategory: cat,
	}
}
