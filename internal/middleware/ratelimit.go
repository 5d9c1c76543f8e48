package middleware

import (
	"net/http"
	"strconv"

	"geosearch/internal/logger"

	"golang.org/x/time/rate"
)

// 文档注释：令牌桶限流中间件（每秒）
// 背景：外壳 API 的联想与搜索接口会转发到远程地理编码服务，峰值时在入口限速，避免耗尽服务端配额。
// 约束：不排队，超限直接返回 429 并带 Retry-After；突发容量等于每秒速率。
func RateLimit(qps int) func(http.Handler) http.Handler {
	if qps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	lim := rate.NewLimiter(rate.Limit(qps), qps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				logger.For("middleware").Debug("rate_limited", "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(1))
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Wrap：按开关组装入口中间件
func Wrap(next http.Handler, rateLimitEnabled bool, qps int) http.Handler {
	h := next
	if rateLimitEnabled {
		h = RateLimit(qps)(h)
	}
	return h
}
