// 包 overlay：地图覆盖物同步（搜索标记、边界、批量标记、地形模式）
package overlay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"geosearch/internal/boundary"
	"geosearch/internal/geo"
	"geosearch/internal/geocoder"
	"geosearch/internal/logger"
	"geosearch/internal/metrics"
	"geosearch/internal/suggest"
)

var (
	ErrInputTooShort   = errors.New("search text too short")
	ErrNoMatch         = errors.New("no matching place")
	ErrInvalidCenter   = errors.New("invalid center coordinates")
	ErrUnsupportedKind = errors.New("unsupported marker kind")
)

const (
	BoundarySourceID  = "search-boundary"
	BoundaryFillID    = "search-boundary-fill"
	BoundaryOutlineID = "search-boundary-outline"
	BuildingLayerID   = "3d-buildings"
	TerrainSourceID   = "mapbox-dem"

	BoundaryColor = "#ef4444"
	FitPadding    = 50
)

var markerColors = map[geo.Kind]string{
	geo.KindPlace:    "#ef4444",
	geo.KindStartup:  "#3b82f6",
	geo.KindInvestor: "#10b981",
}

// MarkerColor：按类别返回标记颜色
func MarkerColor(k geo.Kind) string { return markerColors[k] }

type Mode int

const (
	ModeFlat Mode = iota
	ModeExtruded
)

func (m Mode) String() string {
	if m == ModeExtruded {
		return "extruded"
	}
	return "flat"
}

func (m Mode) MarshalJSON() ([]byte, error) { return []byte(`"` + m.String() + `"`), nil }

type BoundaryResolver interface {
	Resolve(ctx context.Context, t boundary.Target) (*boundary.Boundary, error)
}

type ForwardSearcher interface {
	Forward(ctx context.Context, req geocoder.ForwardRequest) ([]geocoder.Feature, error)
}

type HistoryRecorder interface {
	Record(e geo.HistoryEntry) error
}

// 文档注释：同步器参数
// 约束：零值字段回退到默认值（提交门槛 3 字符、地点缩放 12、实体缩放 15、飞行 2000ms）。
type Options struct {
	MinSubmitLen int
	Country      string
	PlaceTypes   []string
	Proximity    *geo.Point
	PlaceZoom    float64
	EntityZoom   float64
	FlyDuration  time.Duration
	Initial      Camera
}

func (o Options) withDefaults() Options {
	if o.MinSubmitLen <= 0 {
		o.MinSubmitLen = 3
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
	if o.PlaceZoom <= 0 {
		o.PlaceZoom = 12
	}
	if o.EntityZoom <= 0 {
		o.EntityZoom = 15
	}
	if o.FlyDuration <= 0 {
		o.FlyDuration = 2000 * time.Millisecond
	}
	if !o.Initial.Center.Valid() || o.Initial.Center == (geo.Point{}) {
		o.Initial.Center = *o.Proximity
	}
	if o.Initial.Zoom <= 0 {
		o.Initial.Zoom = 11
	}
	return o
}

// 文档注释：覆盖物状态快照
// 约束：只读副本，修改不会影响同步器。
type State struct {
	SearchMarker MarkerHandle    `json:"searchMarker,omitempty"`
	Selected     *geo.Suggestion `json:"selected,omitempty"`
	Boundary     *BoundaryInfo   `json:"boundary,omitempty"`
	BulkMarkers  map[string]int  `json:"bulkMarkers"`
	TerrainMode  Mode            `json:"terrainMode"`
	Camera       Camera          `json:"camera"`
}

type BoundaryInfo struct {
	Label       string    `json:"label"`
	Center      geo.Point `json:"center"`
	Synthesized bool      `json:"synthesized"`
}

type bulkSlot struct {
	mu      sync.Mutex
	handles []MarkerHandle
}

// 文档注释：覆盖物同步器（一个地图面一个实例）
// 背景：覆盖物按槽位划分（搜索标记、边界、每类批量标记），每个槽位一把锁，槽位内的删除与添加不会交错，不同槽位互不阻塞。
// 约束：
// - 边界解析异步进行，结果按选择代数校验，过期结果直接丢弃；
// - 相机移动即发即忘，覆盖物替换不等待动画。
type Synchronizer struct {
	surface  MapSurface
	resolver BoundaryResolver
	hist     HistoryRecorder
	places   ForwardSearcher
	opts     Options

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// selMu 串行化一次选择的相机、标记与边界代数，三者始终属于同一次选择
	selMu    sync.Mutex
	markerMu sync.Mutex
	marker   MarkerHandle
	selected *geo.Suggestion

	gen      atomic.Uint64
	pmu      sync.Mutex
	pending  context.CancelFunc
	bmu      sync.Mutex
	boundary *boundary.Boundary

	bulk map[geo.Kind]*bulkSlot

	camMu  sync.Mutex
	camera Camera
	mode   Mode
}

func New(surface MapSurface, resolver BoundaryResolver, hist HistoryRecorder, places ForwardSearcher, opts Options) *Synchronizer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		surface:  surface,
		resolver: resolver,
		hist:     hist,
		places:   places,
		opts:     opts,
		base:     ctx,
		cancel:   cancel,
		bulk: map[geo.Kind]*bulkSlot{
			geo.KindStartup:  {},
			geo.KindInvestor: {},
		},
		camera: opts.Initial,
	}
}

// 文档注释：选中候选项
// 流程：飞向中心点 → 替换搜索标记与弹窗 → 地点类异步解析边界，其他类别清除当前边界 → 写入历史。
// 返回：中心点非法返回 ErrInvalidCenter（不触碰地图）；地图面错误原样上抛；历史写入失败只记日志。
func (s *Synchronizer) SelectSuggestion(ctx context.Context, sg geo.Suggestion) error {
	return s.selectWith(ctx, sg, sg.DisplayText)
}

// 文档注释：自由文本搜索
// 背景：绕过联想聚合直接调用远程地理编码，取首条结果按地点处理。
// 返回：
// - 去空白后少于门槛：ErrInputTooShort，不发请求；
// - 服务端失败：包装 geocoder.ErrProviderFailure；
// - 无结果：ErrNoMatch。
func (s *Synchronizer) SubmitFreeTextSearch(ctx context.Context, text string) (geo.Suggestion, error) {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < s.opts.MinSubmitLen {
		return geo.Suggestion{}, ErrInputTooShort
	}
	fs, err := s.places.Forward(ctx, geocoder.ForwardRequest{
		Query:     t,
		Country:   s.opts.Country,
		Types:     s.opts.PlaceTypes,
		Proximity: s.opts.Proximity,
		Limit:     1,
	})
	if err != nil {
		if errors.Is(err, geocoder.ErrProviderFailure) {
			return geo.Suggestion{}, fmt.Errorf("free text search: %w", err)
		}
		return geo.Suggestion{}, fmt.Errorf("free text search: %w: %w", geocoder.ErrProviderFailure, err)
	}
	if len(fs) == 0 {
		logger.For("overlay").Debug("overlay_search_no_match", "query_len", len(t))
		return geo.Suggestion{}, ErrNoMatch
	}
	sg := suggest.PlaceSuggestion(fs[0])
	sg.Kind = geo.KindPlace
	return sg, s.selectWith(ctx, sg, t)
}

func (s *Synchronizer) selectWith(ctx context.Context, sg geo.Suggestion, query string) error {
	if !sg.Center.Valid() {
		return ErrInvalidCenter
	}
	zoom := s.opts.EntityZoom
	if sg.Kind == geo.KindPlace {
		zoom = s.opts.PlaceZoom
	}
	if err := s.applySelection(sg, zoom); err != nil {
		return err
	}

	l := logger.For("overlay")
	l.Debug("overlay_selected", "id", sg.ID, "kind", sg.Kind.String())
	if s.hist != nil {
		err := s.hist.Record(geo.HistoryEntry{
			Query:       query,
			ResultLabel: sg.FullLabel,
			Center:      sg.Center,
			Kind:        sg.Kind,
		})
		if err != nil {
			l.Warn("overlay_history_error", "err", err)
		}
	}
	return nil
}

func (s *Synchronizer) applySelection(sg geo.Suggestion, zoom float64) error {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	s.flyTo(sg.Center, zoom)
	if err := s.replaceMarker(sg); err != nil {
		return err
	}
	if sg.Kind != geo.KindPlace {
		return s.clearBoundary()
	}
	name := sg.FullLabel
	if name == "" {
		name = sg.DisplayText
	}
	s.resolveBoundary(boundary.Target{Name: name})
	return nil
}

func (s *Synchronizer) flyTo(center geo.Point, zoom float64) {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	s.camera.Center = center
	s.camera.Zoom = zoom
	s.camera.DurationMs = int(s.opts.FlyDuration / time.Millisecond)
	s.surface.FlyTo(s.camera)
}

func (s *Synchronizer) replaceMarker(sg geo.Suggestion) error {
	s.markerMu.Lock()
	defer s.markerMu.Unlock()
	if s.marker != "" {
		if err := s.surface.RemoveMarker(s.marker); err != nil {
			return fmt.Errorf("remove search marker: %w", err)
		}
		s.marker = ""
		s.selected = nil
	}
	h, err := s.surface.AddMarker(sg.Center, MarkerStyle{Color: MarkerColor(sg.Kind), Kind: sg.Kind}, popupFor(sg))
	if err != nil {
		return fmt.Errorf("add search marker: %w", err)
	}
	s.marker = h
	cp := sg
	s.selected = &cp
	return nil
}

// resolveBoundary：领取新代数并取消上一次未完成的解析
func (s *Synchronizer) resolveBoundary(t boundary.Target) {
	gen := s.gen.Add(1)
	ctx, cancel := context.WithCancel(s.base)
	s.pmu.Lock()
	if s.pending != nil {
		s.pending()
	}
	s.pending = cancel
	s.pmu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		b, err := s.resolver.Resolve(ctx, t)
		if err != nil {
			// 失败视为无边界
			b = nil
			if ctx.Err() == nil {
				logger.For("overlay").Warn("overlay_boundary_lookup_failed", "name", t.Name, "err", err)
			}
		}
		if err := s.applyBoundary(gen, b); err != nil {
			logger.For("overlay").Warn("overlay_boundary_error", "err", err)
		}
	}()
}

// 文档注释：挂载边界
// 约束：
// - 代数不是最新时丢弃结果；
// - 先移除旧的填充与描边图层，再移除数据源，最后依次添加数据源、填充、描边；
// - 有包围盒时先调整视野；b 为 nil 时仅移除旧边界。
func (s *Synchronizer) applyBoundary(gen uint64, b *boundary.Boundary) error {
	s.bmu.Lock()
	defer s.bmu.Unlock()
	if gen != s.gen.Load() {
		metrics.BoundaryTotal.WithLabelValues("stale").Inc()
		logger.For("overlay").Debug("overlay_boundary_stale", "gen", gen)
		return nil
	}
	if err := s.removeBoundaryLocked(); err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	if b.BBox != nil {
		// 视野调整失败不影响边界挂载
		if err := s.surface.FitBounds(*b.BBox, FitPadding); err != nil {
			logger.For("overlay").Warn("overlay_fit_bounds_error", "label", b.Label, "err", err)
		}
	}
	if err := s.surface.AddSource(BoundarySourceID, b.FeatureCollection()); err != nil {
		return fmt.Errorf("add boundary source: %w", err)
	}
	fill := LayerSpec{ID: BoundaryFillID, Type: "fill", Source: BoundarySourceID, Paint: map[string]any{"fill-color": BoundaryColor, "fill-opacity": 0.15}}
	if err := s.surface.AddLayer(fill, ""); err != nil {
		return fmt.Errorf("add boundary fill: %w", err)
	}
	line := LayerSpec{ID: BoundaryOutlineID, Type: "line", Source: BoundarySourceID, Paint: map[string]any{"line-color": BoundaryColor, "line-width": 2}}
	if err := s.surface.AddLayer(line, ""); err != nil {
		return fmt.Errorf("add boundary outline: %w", err)
	}
	s.boundary = b
	logger.For("overlay").Debug("overlay_boundary_applied", "label", b.Label, "synthesized", b.Synthesized)
	return nil
}

func (s *Synchronizer) removeBoundaryLocked() error {
	if err := s.surface.RemoveLayer(BoundaryFillID); err != nil {
		return fmt.Errorf("remove boundary fill: %w", err)
	}
	if err := s.surface.RemoveLayer(BoundaryOutlineID); err != nil {
		return fmt.Errorf("remove boundary outline: %w", err)
	}
	if err := s.surface.RemoveSource(BoundarySourceID); err != nil {
		return fmt.Errorf("remove boundary source: %w", err)
	}
	s.boundary = nil
	return nil
}

// clearBoundary：作废未完成的解析并移除当前边界
func (s *Synchronizer) clearBoundary() error {
	s.gen.Add(1)
	s.pmu.Lock()
	if s.pending != nil {
		s.pending()
		s.pending = nil
	}
	s.pmu.Unlock()
	s.bmu.Lock()
	defer s.bmu.Unlock()
	return s.removeBoundaryLocked()
}

// 文档注释：替换某类别的批量标记
// 背景：先移除该类别已跟踪的全部标记，再为每个坐标合法的实体添加一个标记；坐标非法的实体只记日志。
// 返回：新增标记数；地点类别返回 ErrUnsupportedKind。
func (s *Synchronizer) SetBulkMarkers(kind geo.Kind, entities []geo.Entity) (int, error) {
	slot, ok := s.bulk[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	var errs []error
	kept := slot.handles[:0]
	for _, h := range slot.handles {
		if err := s.surface.RemoveMarker(h); err != nil {
			errs = append(errs, err)
			kept = append(kept, h)
		}
	}
	slot.handles = kept
	if len(errs) > 0 {
		return 0, fmt.Errorf("remove %s markers: %w", kind, errors.Join(errs...))
	}

	l := logger.For("overlay")
	style := MarkerStyle{Color: MarkerColor(kind), Kind: kind}
	added := 0
	for _, e := range entities {
		if !e.Center.Valid() {
			l.Warn("overlay_bulk_invalid_center", "kind", kind.String(), "id", e.ID, "name", e.Name)
			continue
		}
		h, err := s.surface.AddMarker(e.Center, style, popupFor(geo.FromEntity(e)))
		if err != nil {
			metrics.BulkMarkers.WithLabelValues(kind.String()).Set(float64(len(slot.handles)))
			return added, fmt.Errorf("add %s marker %s: %w", kind, e.ID, err)
		}
		slot.handles = append(slot.handles, h)
		added++
	}
	metrics.BulkMarkers.WithLabelValues(kind.String()).Set(float64(added))
	l.Info("overlay_bulk_replaced", "kind", kind.String(), "count", added, "skipped", len(entities)-added)
	return added, nil
}

// 文档注释：切换平面/立体模式
// 约束：只影响相机俯仰角、方位角、地形与建筑图层可见性，不触碰标记和边界。
func (s *Synchronizer) ToggleTerrainMode() (Mode, error) {
	s.camMu.Lock()
	defer s.camMu.Unlock()
	next := ModeExtruded
	var terrain *Terrain
	if s.mode == ModeExtruded {
		next = ModeFlat
		s.camera.Pitch, s.camera.Bearing = 0, 0
	} else {
		s.camera.Pitch, s.camera.Bearing = 60, -17.6
		terrain = &Terrain{Source: TerrainSourceID, Exaggeration: 1.5}
	}
	s.camera.DurationMs = int(s.opts.FlyDuration / time.Millisecond)
	s.surface.FlyTo(s.camera)
	err := errors.Join(
		s.surface.SetTerrain(terrain),
		s.surface.SetLayerVisibility(BuildingLayerID, next == ModeExtruded),
	)
	if err != nil {
		return s.mode, fmt.Errorf("toggle terrain: %w", err)
	}
	s.mode = next
	logger.For("overlay").Debug("overlay_terrain_mode", "mode", next.String())
	return next, nil
}

func (s *Synchronizer) Snapshot() State {
	st := State{BulkMarkers: make(map[string]int, len(s.bulk))}
	s.markerMu.Lock()
	st.SearchMarker = s.marker
	if s.selected != nil {
		cp := *s.selected
		st.Selected = &cp
	}
	s.markerMu.Unlock()

	s.bmu.Lock()
	if b := s.boundary; b != nil {
		st.Boundary = &BoundaryInfo{Label: b.Label, Center: b.Center, Synthesized: b.Synthesized}
	}
	s.bmu.Unlock()

	for k, slot := range s.bulk {
		slot.mu.Lock()
		st.BulkMarkers[k.String()] = len(slot.handles)
		slot.mu.Unlock()
	}

	s.camMu.Lock()
	st.TerrainMode = s.mode
	st.Camera = s.camera
	s.camMu.Unlock()
	return st
}

// Wait：等待已发起的边界解析全部结束
func (s *Synchronizer) Wait() { s.wg.Wait() }

// Close：作废未完成的解析并移除全部覆盖物
func (s *Synchronizer) Close() error {
	s.gen.Add(1)
	s.cancel()
	s.wg.Wait()

	var errs []error
	s.markerMu.Lock()
	if s.marker != "" {
		errs = append(errs, s.surface.RemoveMarker(s.marker))
		s.marker = ""
		s.selected = nil
	}
	s.markerMu.Unlock()

	s.bmu.Lock()
	errs = append(errs, s.removeBoundaryLocked())
	s.bmu.Unlock()

	for k, slot := range s.bulk {
		slot.mu.Lock()
		for _, h := range slot.handles {
			errs = append(errs, s.surface.RemoveMarker(h))
		}
		slot.handles = nil
		slot.mu.Unlock()
		metrics.BulkMarkers.WithLabelValues(k.String()).Set(0)
	}
	return errors.Join(errs...)
}

// popupFor：有实体载荷时展示实体字段，否则展示通用地点文本
func popupFor(sg geo.Suggestion) *Popup {
	e := sg.Payload
	if e == nil {
		p := &Popup{Title: sg.DisplayText, Subtitle: "Place"}
		if sg.FullLabel != "" && sg.FullLabel != sg.DisplayText {
			p.Lines = []string{sg.FullLabel}
		}
		return p
	}
	p := &Popup{Title: e.Name, URL: e.Website}
	switch e.Kind {
	case geo.KindStartup:
		p.Subtitle = "Startup"
		if e.Industry != "" {
			p.Lines = append(p.Lines, "Industry: "+e.Industry)
		}
		if e.Stage != "" {
			p.Lines = append(p.Lines, "Stage: "+e.Stage)
		}
	case geo.KindInvestor:
		p.Subtitle = "Investor"
		if e.Role != "" {
			p.Lines = append(p.Lines, "Role: "+e.Role)
		}
	}
	if e.LocationName != "" {
		p.Lines = append(p.Lines, e.LocationName)
	}
	return p
}
