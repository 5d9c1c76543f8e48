package geocoder

import (
	"container/list"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"geosearch/internal/logger"
	"geosearch/internal/metrics"

	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"
)

// 文档注释：进程内 LRU（带 TTL）
// 背景：输入联想期间同一前缀会被反复检索，本地缓存可省掉大部分远程调用。
// 约束：线程安全；过期条目在读取时惰性清除。
type LRU struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type lruItem struct {
	k   string
	v   []Feature
	exp time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LRU{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

func (c *LRU) Get(k string) ([]Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[k]
	if !ok {
		return nil, false
	}
	it := e.Value.(lruItem)
	if c.now().After(it.exp) {
		c.lst.Remove(e)
		delete(c.dict, k)
		return nil, false
	}
	c.lst.MoveToFront(e)
	return cloneFeatures(it.v), true
}

func (c *LRU) Set(k string, v []Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := lruItem{k: k, v: cloneFeatures(v), exp: c.now().Add(c.ttl)}
	if e, ok := c.dict[k]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(lruItem).k)
		c.lst.Remove(back)
	}
}

// cloneFeatures：缓存条目与调用方互不共享切片与几何
func cloneFeatures(fs []Feature) []Feature {
	if fs == nil {
		return nil
	}
	out := make([]Feature, len(fs))
	for i, f := range fs {
		f.PlaceType = append([]string(nil), f.PlaceType...)
		if f.BBox != nil {
			b := *f.BBox
			f.BBox = &b
		}
		if f.Geometry != nil {
			f.Geometry = orb.Clone(f.Geometry)
		}
		out[i] = f
	}
	return out
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

// 文档注释：带缓存的检索器（本地 LRU → Redis → 远程）
// 背景：Redis 为可选二级缓存，多实例共享热点结果；rc 为 nil 时仅使用本地缓存。
// 约束：失败结果不写缓存，避免把临时故障固化；Redis 异常只记日志，不影响主流程。
type Cached struct {
	next     Searcher
	local    *LRU
	rc       *redis.Client
	redisTTL time.Duration
}

func NewCached(next Searcher, local *LRU, rc *redis.Client, redisTTL time.Duration) *Cached {
	if local == nil {
		local = NewLRU(1024, 10*time.Minute)
	}
	if redisTTL <= 0 {
		redisTTL = 24 * time.Hour
	}
	return &Cached{next: next, local: local, rc: rc, redisTTL: redisTTL}
}

func (c *Cached) Forward(ctx context.Context, req ForwardRequest) ([]Feature, error) {
	key := forwardKey(req)
	return c.lookup(ctx, key, func() ([]Feature, error) { return c.next.Forward(ctx, req) })
}

func (c *Cached) Reverse(ctx context.Context, req ReverseRequest) ([]Feature, error) {
	key := reverseKey(req)
	return c.lookup(ctx, key, func() ([]Feature, error) { return c.next.Reverse(ctx, req) })
}

func (c *Cached) lookup(ctx context.Context, key string, fetch func() ([]Feature, error)) ([]Feature, error) {
	if v, ok := c.local.Get(key); ok {
		metrics.GeocodeCacheTotal.WithLabelValues("local", "hit").Inc()
		return v, nil
	}
	metrics.GeocodeCacheTotal.WithLabelValues("local", "miss").Inc()
	if c.rc != nil {
		if s, err := c.rc.Get(ctx, key).Result(); err == nil && s != "" {
			var v []Feature
			if json.Unmarshal([]byte(s), &v) == nil {
				metrics.GeocodeCacheTotal.WithLabelValues("redis", "hit").Inc()
				c.local.Set(key, v)
				return v, nil
			}
		} else if err != nil && err != redis.Nil {
			logger.For("geocoder").Debug("geocode_cache_redis_error", "err", err)
		}
		metrics.GeocodeCacheTotal.WithLabelValues("redis", "miss").Inc()
	}
	v, err := fetch()
	if err != nil {
		return nil, err
	}
	c.local.Set(key, v)
	if c.rc != nil {
		if b, err := json.Marshal(v); err == nil {
			if err := c.rc.Set(ctx, key, string(b), c.redisTTL).Err(); err != nil {
				logger.For("geocoder").Debug("geocode_cache_redis_set_error", "err", err)
			}
		}
	}
	return v, nil
}

func forwardKey(r ForwardRequest) string {
	var b strings.Builder
	b.WriteString("geocode:fwd:")
	b.WriteString(strings.ToLower(strings.TrimSpace(r.Query)))
	b.WriteString("|")
	b.WriteString(r.Country)
	b.WriteString("|")
	b.WriteString(strings.Join(r.Types, ","))
	b.WriteString("|")
	if r.Proximity != nil {
		b.WriteString(strconv.FormatFloat(r.Proximity.Lng, 'f', 3, 64))
		b.WriteString(",")
		b.WriteString(strconv.FormatFloat(r.Proximity.Lat, 'f', 3, 64))
	}
	b.WriteString("|")
	b.WriteString(strconv.Itoa(r.Limit))
	return b.String()
}

func reverseKey(r ReverseRequest) string {
	return "geocode:rev:" + encodeGeohash(r.Point.Lat, r.Point.Lng, 7) + "|" + strings.Join(r.Types, ",") + "|" + strconv.Itoa(r.Limit)
}
