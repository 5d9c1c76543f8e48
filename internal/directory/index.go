// 包 directory：目录实体（创业公司/投资方）的只读内存索引，后台周期刷新
package directory

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"geosearch/internal/geo"
	"geosearch/internal/logger"
	"geosearch/internal/metrics"
)

// Loader：拉取完整实体集合（两类一起返回）
type Loader interface {
	Load(ctx context.Context) ([]geo.Entity, error)
}

// snapshot：一次刷新的只读结果；name/location 预先小写以免每次搜索重复转换
type snapshot struct {
	startups  []indexed
	investors []indexed
	builtAt   time.Time
}

type indexed struct {
	e     geo.Entity
	name  string
	place string
}

// 文档注释：实体索引
// 背景：通过 atomic.Pointer 切换快照，读路径不加锁、不被刷新阻塞；刷新失败保留旧快照继续服务。
// 约束：搜索为同步的子串匹配（名称或所在地，大小写不敏感），按快照内顺序返回前 limit 条。
type Index struct {
	loader Loader
	snap   atomic.Pointer[snapshot]

	hmu   sync.Mutex
	hooks []func(*Index)
}

// OnRefresh：注册刷新成功后的回调，在刷新所在 goroutine 中同步执行
func (ix *Index) OnRefresh(fn func(*Index)) {
	ix.hmu.Lock()
	ix.hooks = append(ix.hooks, fn)
	ix.hmu.Unlock()
}

func NewIndex(loader Loader) *Index {
	ix := &Index{loader: loader}
	ix.snap.Store(&snapshot{})
	return ix
}

// Refresh：立即拉取并替换快照
func (ix *Index) Refresh(ctx context.Context) error {
	l := logger.For("directory")
	ents, err := ix.loader.Load(ctx)
	if err != nil {
		metrics.DirectoryRefreshTotal.WithLabelValues("error").Inc()
		l.Error("directory_refresh_error", "err", err)
		return err
	}
	s := &snapshot{builtAt: time.Now()}
	for _, e := range ents {
		it := indexed{e: e, name: strings.ToLower(e.Name), place: strings.ToLower(e.LocationName)}
		switch e.Kind {
		case geo.KindStartup:
			s.startups = append(s.startups, it)
		case geo.KindInvestor:
			s.investors = append(s.investors, it)
		}
	}
	ix.snap.Store(s)
	metrics.DirectoryRefreshTotal.WithLabelValues("ok").Inc()
	metrics.DirectoryEntities.WithLabelValues("startup").Set(float64(len(s.startups)))
	metrics.DirectoryEntities.WithLabelValues("investor").Set(float64(len(s.investors)))
	l.Info("directory_refreshed", "startups", len(s.startups), "investors", len(s.investors))
	ix.hmu.Lock()
	hooks := append([]func(*Index){}, ix.hooks...)
	ix.hmu.Unlock()
	for _, fn := range hooks {
		fn(ix)
	}
	return nil
}

// 文档注释：启动后台刷新
// 背景：先同步刷新一次，再按 interval 周期刷新；ctx 取消时退出。首次失败不阻止启动。
func (ix *Index) Start(ctx context.Context, interval time.Duration) {
	_ = ix.Refresh(ctx)
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = ix.Refresh(ctx)
			}
		}
	}()
}

func (ix *Index) SearchStartups(sub string, limit int) []geo.Entity {
	return search(ix.snap.Load().startups, sub, limit)
}

func (ix *Index) SearchInvestors(sub string, limit int) []geo.Entity {
	return search(ix.snap.Load().investors, sub, limit)
}

// All：某一类别的全部实体（用于批量标记）
func (ix *Index) All(kind geo.Kind) []geo.Entity {
	s := ix.snap.Load()
	var src []indexed
	switch kind {
	case geo.KindStartup:
		src = s.startups
	case geo.KindInvestor:
		src = s.investors
	}
	out := make([]geo.Entity, 0, len(src))
	for _, it := range src {
		out = append(out, it.e)
	}
	return out
}

func (ix *Index) BuiltAt() time.Time { return ix.snap.Load().builtAt }

func search(items []indexed, sub string, limit int) []geo.Entity {
	needle := strings.ToLower(strings.TrimSpace(sub))
	if needle == "" || limit <= 0 {
		return nil
	}
	var out []geo.Entity
	for _, it := range items {
		if strings.Contains(it.name, needle) || strings.Contains(it.place, needle) {
			out = append(out, it.e)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// StaticLoader：固定实体列表（演示与测试）
type StaticLoader []geo.Entity

func (s StaticLoader) Load(ctx context.Context) ([]geo.Entity, error) {
	return append([]geo.Entity(nil), s...), nil
}
