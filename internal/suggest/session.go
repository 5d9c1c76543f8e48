package suggest

import (
	"context"
	"sync"
	"time"

	"geosearch/internal/geo"
	"geosearch/internal/logger"
	"geosearch/internal/metrics"
)

// 文档注释：输入联想会话（一个输入框一个会话）
// 背景：每次 Submit 领取单调递增的票据；只有票据仍为最新的结果才会交付，旧请求的结果直接丢弃而非交付后再忽略，避免界面闪烁。
// 约束：
// - 输入过短走快速路径：不经防抖、不发请求，立即交付空结果，同时使此前的票据失效；
// - 新 Submit 会取消上一个在途聚合的 ctx，远程请求在传输层被中止；
// - 交付串行执行，旧结果不会在新结果之后交付；deliver 回调内不得同步调用 Submit。
type Session struct {
	agg      *Aggregator
	deliver  func(Result)
	debounce time.Duration
	base     context.Context

	mu     sync.Mutex
	seq    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool

	dmu sync.Mutex
	wg  sync.WaitGroup
}

func NewSession(ctx context.Context, agg *Aggregator, deliver func(Result)) *Session {
	return &Session{agg: agg, deliver: deliver, debounce: agg.opts.Debounce, base: ctx}
}

// Submit：提交最新输入，返回本次票据；会话关闭后返回 0
func (s *Session) Submit(q geo.Query) uint64 {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.seq++
	t := s.seq
	s.stopLocked()
	if s.agg.IsShort(q) {
		s.mu.Unlock()
		res := s.agg.Aggregate(s.base, q)
		res.Ticket = t
		s.deliverIf(t, res)
		return t
	}
	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.debounce, func() {
		defer s.wg.Done()
		s.run(ctx, t, q)
	})
	s.mu.Unlock()
	return t
}

// stopLocked：停止未触发的防抖定时器并取消在途请求；调用方持有 mu
func (s *Session) stopLocked() {
	if s.timer != nil && s.timer.Stop() {
		s.wg.Done()
	}
	s.timer = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) run(ctx context.Context, t uint64, q geo.Query) {
	if ctx.Err() != nil || !s.current(t) {
		s.discard(t)
		return
	}
	res := s.agg.Aggregate(ctx, q)
	res.Ticket = t
	s.deliverIf(t, res)
}

func (s *Session) current(t uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && t == s.seq
}

func (s *Session) deliverIf(t uint64, res Result) {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if !s.current(t) {
		s.discard(t)
		return
	}
	s.deliver(res)
}

func (s *Session) discard(t uint64) {
	metrics.StaleDiscardedTotal.Inc()
	logger.For("suggest").Debug("suggest_stale_discarded", "ticket", t)
}

// Latest：最近一次 Submit 的票据
func (s *Session) Latest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Close：停止定时器、取消在途请求并等待回调退出；之后的 Submit 被忽略
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()
	s.wg.Wait()
}
