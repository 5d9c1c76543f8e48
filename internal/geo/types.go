// 包 geo：搜索与地图叠加层共享的领域模型（坐标、类别、候选项、历史记录）
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// 文档注释：地理坐标（经度在前，与 GeoJSON 顺序一致）
// 约束：JSON 序列化为 [lng, lat] 数组，便于前端直接传给地图组件。
type Point struct {
	Lng float64
	Lat float64
}

// Valid：经度 [-180,180]、纬度 [-90,90] 且非 NaN
func (p Point) Valid() bool {
	if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) {
		return false
	}
	return p.Lng >= -180 && p.Lng <= 180 && p.Lat >= -90 && p.Lat <= 90
}

func (p Point) Orb() orb.Point { return orb.Point{p.Lng, p.Lat} }

func FromOrb(p orb.Point) Point { return Point{Lng: p.Lon(), Lat: p.Lat()} }

func (p Point) String() string { return fmt.Sprintf("[%.6f,%.6f]", p.Lng, p.Lat) }

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lng, p.Lat})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var arr []float64
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	if len(arr) < 2 {
		return errors.New("point needs [lng, lat]")
	}
	p.Lng, p.Lat = arr[0], arr[1]
	return nil
}

// 文档注释：候选项类别（封闭枚举）
// 背景：决定标记颜色、弹窗模板、缩放级别；仅 Place 会触发边界解析。
type Kind int

const (
	KindPlace Kind = iota
	KindStartup
	KindInvestor
)

func (k Kind) String() string {
	switch k {
	case KindPlace:
		return "place"
	case KindStartup:
		return "startup"
	case KindInvestor:
		return "investor"
	default:
		return "unknown"
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "place":
		return KindPlace, nil
	case "startup":
		return KindStartup, nil
	case "investor":
		return KindInvestor, nil
	}
	return KindPlace, fmt.Errorf("unknown kind %q", s)
}

func (k Kind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// 分类过滤：All 为默认值
type Category int

const (
	CategoryAll Category = iota
	CategoryStartup
	CategoryInvestor
	CategoryPlace
)

func (c Category) String() string {
	switch c {
	case CategoryStartup:
		return "startup"
	case CategoryInvestor:
		return "investor"
	case CategoryPlace:
		return "place"
	default:
		return "all"
	}
}

// ParseCategory：空串视为 All；大小写不敏感
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return CategoryAll, nil
	case "startup", "startups":
		return CategoryStartup, nil
	case "investor", "investors":
		return CategoryInvestor, nil
	case "place", "places":
		return CategoryPlace, nil
	}
	return CategoryAll, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalJSON() ([]byte, error) { return json.Marshal(c.String()) }

func (c *Category) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// 文档注释：目录实体（创业公司/投资方）
// 背景：由目录服务周期刷新；弹窗按类别读取 Industry/Stage 或 Role。
type Entity struct {
	ID           string `json:"id"`
	Kind         Kind   `json:"kind"`
	Name         string `json:"name"`
	LocationName string `json:"locationName,omitempty"`
	Center       Point  `json:"center"`
	Industry     string `json:"industry,omitempty"`
	Stage        string `json:"stage,omitempty"`
	Role         string `json:"role,omitempty"`
	Website      string `json:"website,omitempty"`
}

// 文档注释：搜索候选项
// 约束：ID 以来源类别为前缀（startup:/investor:/place:），同一结果集内唯一；Center 非法者不得返回给调用方。
type Suggestion struct {
	ID             string  `json:"id"`
	DisplayText    string  `json:"displayText"`
	FullLabel      string  `json:"fullLabel"`
	Center         Point   `json:"center"`
	Kind           Kind    `json:"kind"`
	SourceCategory string  `json:"sourceCategory,omitempty"`
	Payload        *Entity `json:"payload,omitempty"`
}

// FromEntity：将目录实体转换为候选项
func FromEntity(e Entity) Suggestion {
	full := e.Name
	if e.LocationName != "" {
		full = e.Name + ", " + e.LocationName
	}
	ent := e
	return Suggestion{
		ID:          e.Kind.String() + ":" + e.ID,
		DisplayText: e.Name,
		FullLabel:   full,
		Center:      e.Center,
		Kind:        e.Kind,
		Payload:     &ent,
	}
}

// 查询：文本与分类过滤
type Query struct {
	Text     string   `json:"text"`
	Category Category `json:"category"`
}

// 文档注释：搜索历史条目
// 约束：JSON 字段名即持久化格式，修改需考虑已有数据兼容。
type HistoryEntry struct {
	Query       string    `json:"query"`
	ResultLabel string    `json:"resultLabel"`
	Center      Point     `json:"center"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
}
