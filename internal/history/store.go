// 包 history：最近选择记录（最多 5 条，最新在前，按查询文本去重），持久化到同步键值介质
package history

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"geosearch/internal/geo"
	"geosearch/internal/logger"
	"geosearch/internal/metrics"
)

const (
	DefaultKey = "geosearch:search_history"
	MaxEntries = 5
)

// ErrCorrupt：持久化内容无法解析；仅用于日志，Store 会自愈而不返回该错误
var ErrCorrupt = errors.New("corrupt persisted history")

// 文档注释：持久化介质
// 约束：Load 在键不存在时返回 (nil, nil)；实现需保证单次 Save 原子可见。
type Medium interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	Delete(key string) error
}

// 文档注释：历史记录存储
// 背景：介质是进程内共享的可变资源，所有读写都经由本类型的互斥锁串行化；其他组件不得直接访问介质。
// 约束：Record 先按 Query 精确（区分大小写）去重再插入队首，最后截断到 MaxEntries。
type Store struct {
	mu     sync.Mutex
	medium Medium
	key    string
	now    func() time.Time
}

func NewStore(m Medium, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{medium: m, key: key, now: time.Now}
}

func (s *Store) Record(e geo.HistoryEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.load()
	if err != nil {
		return err
	}
	next := make([]geo.HistoryEntry, 0, MaxEntries)
	next = append(next, e)
	for _, old := range cur {
		if old.Query == e.Query {
			continue
		}
		next = append(next, old)
	}
	if len(next) > MaxEntries {
		next = next[:MaxEntries]
	}
	b, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return s.medium.Save(s.key, b)
}

func (s *Store) List() ([]geo.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.medium.Delete(s.key)
}

// load：调用方持锁。解析失败时清空键并按空历史继续
func (s *Store) load() ([]geo.HistoryEntry, error) {
	b, err := s.medium.Load(s.key)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var out []geo.HistoryEntry
	if err := json.Unmarshal(b, &out); err != nil {
		s.heal(err)
		return nil, nil
	}
	if len(out) > MaxEntries {
		out = out[:MaxEntries]
	}
	return out, nil
}

func (s *Store) heal(cause error) {
	metrics.HistoryCorruptTotal.Inc()
	l := logger.For("history")
	l.Warn("history_corrupt_reset", "key", s.key, "err", errors.Join(ErrCorrupt, cause))
	if err := s.medium.Delete(s.key); err != nil {
		l.Error("history_reset_error", "key", s.key, "err", err)
	}
}
