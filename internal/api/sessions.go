package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"geosearch/internal/geo"
	"geosearch/internal/suggest"
)

// 文档注释：按客户端会话防抖的联想
// 背景：前端每次按键发一个带 session 参数的请求；同一会话内被新输入取代的请求返回 204，只有最后一次输入在防抖窗口后返回结果。
// 约束：空闲超过 ttl 的会话在下次访问注册表时关闭回收。
type sessions struct {
	agg *suggest.Aggregator
	ttl time.Duration

	mu sync.Mutex
	m  map[string]*liveSession
}

type liveSession struct {
	s *suggest.Session

	mu       sync.Mutex
	last     suggest.Result
	waiters  map[uint64]chan suggest.Result
	lastUsed time.Time
}

const sessionTTL = 5 * time.Minute

func newSessions(agg *suggest.Aggregator, ttl time.Duration) *sessions {
	return &sessions{agg: agg, ttl: ttl, m: make(map[string]*liveSession)}
}

func (ss *sessions) get(id string) *liveSession {
	now := time.Now()
	var idle []*liveSession
	ss.mu.Lock()
	for k, ls := range ss.m {
		if k != id && ls.idleSince(now) > ss.ttl {
			idle = append(idle, ls)
			delete(ss.m, k)
		}
	}
	ls, ok := ss.m[id]
	if !ok {
		ls = &liveSession{waiters: make(map[uint64]chan suggest.Result)}
		ls.s = suggest.NewSession(context.Background(), ss.agg, ls.deliver)
		ss.m[id] = ls
	}
	ls.touch(now)
	ss.mu.Unlock()
	for _, old := range idle {
		old.s.Close()
		old.release()
	}
	return ls
}

func (ls *liveSession) touch(now time.Time) {
	ls.mu.Lock()
	ls.lastUsed = now
	ls.mu.Unlock()
}

func (ls *liveSession) idleSince(now time.Time) time.Duration {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return now.Sub(ls.lastUsed)
}

func (ls *liveSession) release() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for k, ch := range ls.waiters {
		close(ch)
		delete(ls.waiters, k)
	}
}

func (ls *liveSession) deliver(r suggest.Result) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.last = r
	if ch, ok := ls.waiters[r.Ticket]; ok {
		ch <- r
		delete(ls.waiters, r.Ticket)
	}
}

// serve：提交输入并等待本票据的结果；被取代时返回 204
func (ss *sessions) serve(w http.ResponseWriter, r *http.Request, id string, q geo.Query) {
	ls := ss.get(id)
	t := ls.s.Submit(q)
	if t == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ls.mu.Lock()
	for k, ch := range ls.waiters {
		if k < t {
			close(ch)
			delete(ls.waiters, k)
		}
	}
	if t != ls.s.Latest() {
		ls.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if ls.last.Ticket == t {
		res := ls.last
		ls.mu.Unlock()
		writeJSON(w, http.StatusOK, newSuggestResponse(res))
		return
	}
	ch := make(chan suggest.Result, 1)
	ls.waiters[t] = ch
	ls.mu.Unlock()

	select {
	case res, ok := <-ch:
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, newSuggestResponse(res))
	case <-r.Context().Done():
		ls.mu.Lock()
		delete(ls.waiters, t)
		ls.mu.Unlock()
	}
}
