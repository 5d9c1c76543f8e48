// 包 mapsurface：内存地图渲染面，记录覆盖物状态与操作序列，供无界面运行与测试使用
package mapsurface

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"geosearch/internal/geo"
	"geosearch/internal/overlay"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrSourceInUse     = errors.New("source is referenced by a layer")
	ErrUnknownSource   = errors.New("unknown source")
	ErrDuplicateSource = errors.New("source already exists")
	ErrDuplicateLayer  = errors.New("layer already exists")
	ErrInvalidPosition = errors.New("invalid marker position")
	ErrInvalidBounds   = errors.New("invalid bounds")
)

type Marker struct {
	Handle overlay.MarkerHandle `json:"handle"`
	At     geo.Point            `json:"at"`
	Style  overlay.MarkerStyle  `json:"style"`
	Popup  *overlay.Popup       `json:"popup,omitempty"`
}

type Fit struct {
	Bound   orb.Bound `json:"bound"`
	Padding int       `json:"padding"`
}

// State：渲染面快照
type State struct {
	Camera     overlay.Camera                        `json:"camera"`
	Markers    []Marker                              `json:"markers"`
	Sources    map[string]*geojson.FeatureCollection `json:"sources"`
	Layers     []overlay.LayerSpec                   `json:"layers"`
	Terrain    *overlay.Terrain                      `json:"terrain"`
	Visibility map[string]bool                       `json:"visibility"`
	LastFit    *Fit                                  `json:"lastFit,omitempty"`
}

// 文档注释：内存渲染面
// 约束：
// - 删除不存在的标记/图层/数据源不报错；
// - 数据源被图层引用时拒绝删除，图层引用未注册的数据源时拒绝添加；
// - 标记句柄为 UUID。
type Memory struct {
	mu         sync.Mutex
	camera     overlay.Camera
	markers    map[overlay.MarkerHandle]Marker
	sources    map[string]*geojson.FeatureCollection
	layers     []overlay.LayerSpec
	terrain    *overlay.Terrain
	visibility map[string]bool
	lastFit    *Fit
	ops        []string
}

func New() *Memory {
	return &Memory{
		markers:    make(map[overlay.MarkerHandle]Marker),
		sources:    make(map[string]*geojson.FeatureCollection),
		visibility: make(map[string]bool),
	}
}

func (m *Memory) record(op string) { m.ops = append(m.ops, op) }

func (m *Memory) FlyTo(c overlay.Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.camera = c
	m.record("flyTo")
}

func (m *Memory) AddMarker(at geo.Point, style overlay.MarkerStyle, popup *overlay.Popup) (overlay.MarkerHandle, error) {
	if !at.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidPosition, at)
	}
	h := overlay.MarkerHandle(uuid.NewString())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[h] = Marker{Handle: h, At: at, Style: style, Popup: popup}
	m.record("addMarker")
	return h, nil
}

func (m *Memory) RemoveMarker(h overlay.MarkerHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.markers[h]; ok {
		delete(m.markers, h)
		m.record("removeMarker")
	}
	return nil
}

func (m *Memory) AddSource(id string, data *geojson.FeatureCollection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, id)
	}
	m.sources[id] = data
	m.record("addSource:" + id)
	return nil
}

func (m *Memory) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return nil
	}
	for _, l := range m.layers {
		if l.Source == id {
			return fmt.Errorf("%w: %s used by %s", ErrSourceInUse, id, l.ID)
		}
	}
	delete(m.sources, id)
	m.record("removeSource:" + id)
	return nil
}

// AddLayer：beforeID 非空且存在时插入其前，否则追加到末尾
func (m *Memory) AddLayer(layer overlay.LayerSpec, beforeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.layerIndex(layer.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateLayer, layer.ID)
	}
	if _, ok := m.sources[layer.Source]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, layer.Source)
	}
	at := len(m.layers)
	if beforeID != "" {
		if i := m.layerIndex(beforeID); i >= 0 {
			at = i
		}
	}
	m.layers = append(m.layers, overlay.LayerSpec{})
	copy(m.layers[at+1:], m.layers[at:])
	m.layers[at] = layer
	m.record("addLayer:" + layer.ID)
	return nil
}

func (m *Memory) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.layerIndex(id)
	if i < 0 {
		return nil
	}
	m.layers = append(m.layers[:i], m.layers[i+1:]...)
	m.record("removeLayer:" + id)
	return nil
}

func (m *Memory) layerIndex(id string) int {
	for i, l := range m.layers {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) FitBounds(b orb.Bound, padding int) error {
	if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
		return fmt.Errorf("%w: %v", ErrInvalidBounds, b)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFit = &Fit{Bound: b, Padding: padding}
	m.record("fitBounds")
	return nil
}

func (m *Memory) SetTerrain(t *overlay.Terrain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		m.terrain = nil
	} else {
		cp := *t
		m.terrain = &cp
	}
	m.record("setTerrain")
	return nil
}

func (m *Memory) SetLayerVisibility(id string, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visibility[id] = visible
	m.record("setLayerVisibility:" + id)
	return nil
}

// State：当前状态的副本，标记按句柄排序
func (m *Memory) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{
		Camera:     m.camera,
		Markers:    make([]Marker, 0, len(m.markers)),
		Sources:    make(map[string]*geojson.FeatureCollection, len(m.sources)),
		Layers:     append([]overlay.LayerSpec(nil), m.layers...),
		Visibility: make(map[string]bool, len(m.visibility)),
	}
	for _, mk := range m.markers {
		st.Markers = append(st.Markers, mk)
	}
	sort.Slice(st.Markers, func(i, j int) bool { return st.Markers[i].Handle < st.Markers[j].Handle })
	for k, v := range m.sources {
		st.Sources[k] = v
	}
	for k, v := range m.visibility {
		st.Visibility[k] = v
	}
	if m.terrain != nil {
		t := *m.terrain
		st.Terrain = &t
	}
	if m.lastFit != nil {
		f := *m.lastFit
		st.LastFit = &f
	}
	return st
}

// Ops：操作序列副本
func (m *Memory) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

// MarkersOfKind：某类别的标记数
func (m *Memory) MarkersOfKind(k geo.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, mk := range m.markers {
		if mk.Style.Kind == k {
			n++
		}
	}
	return n
}

// ResetOps：清空操作序列
func (m *Memory) ResetOps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = nil
}

var _ overlay.MapSurface = (*Memory)(nil)
