package overlay

import (
	"geosearch/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// 文档注释：相机目标
// 约束：FlyTo 为即发即忘，调用方不得等待动画完成再修改覆盖物。
type Camera struct {
	Center     geo.Point `json:"center"`
	Zoom       float64   `json:"zoom"`
	Pitch      float64   `json:"pitch"`
	Bearing    float64   `json:"bearing"`
	DurationMs int       `json:"durationMs"`
}

type MarkerStyle struct {
	Color string   `json:"color"`
	Kind  geo.Kind `json:"kind"`
}

// Popup：标记弹窗内容
type Popup struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	Lines    []string `json:"lines,omitempty"`
	URL      string   `json:"url,omitempty"`
}

type MarkerHandle string

// 文档注释：图层定义
// 约束：Source 必须在 AddLayer 之前已通过 AddSource 注册。
type LayerSpec struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Paint  map[string]any `json:"paint,omitempty"`
}

type Terrain struct {
	Source       string  `json:"source"`
	Exaggeration float64 `json:"exaggeration"`
}

// 文档注释：地图渲染面
// 背景：由应用外壳提供（浏览器地图引擎的桥接或内存实现）；同步器是覆盖物的唯一修改方。
// 约束：
// - 删除仍被图层引用的数据源应返回错误；
// - 各方法可能被不同槽位的 goroutine 并发调用，实现需自行加锁。
type MapSurface interface {
	FlyTo(c Camera)
	AddMarker(at geo.Point, style MarkerStyle, popup *Popup) (MarkerHandle, error)
	RemoveMarker(h MarkerHandle) error
	AddSource(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error
	AddLayer(layer LayerSpec, beforeID string) error
	RemoveLayer(id string) error
	FitBounds(b orb.Bound, padding int) error
	SetTerrain(t *Terrain) error
	SetLayerVisibility(id string, visible bool) error
}
