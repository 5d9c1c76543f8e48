package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"geosearch/internal/geo"
	"geosearch/internal/geocoder"
	"geosearch/internal/overlay"
	"geosearch/internal/suggest"
)

// 文档注释：联想接口返回结构（对外）
// 背景：在聚合结果之外显式给出 noMatch / degraded 标记，前端据此区分“无结果”与“远程来源暂不可用”。
// 约束：字段稳定；degraded 不携带内部错误原文。
type suggestResponse struct {
	Query       geo.Query        `json:"query"`
	Suggestions []geo.Suggestion `json:"suggestions"`
	Short       bool             `json:"short"`
	NoMatch     bool             `json:"noMatch"`
	Degraded    bool             `json:"degraded"`
}

func newSuggestResponse(r suggest.Result) suggestResponse {
	return suggestResponse{
		Query:       r.Query,
		Suggestions: r.Suggestions,
		Short:       r.Short,
		NoMatch:     r.NoMatch(),
		Degraded:    r.Degraded(),
	}
}

type searchRequest struct {
	Text string `json:"text"`
}

type markersResponse struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

type terrainResponse struct {
	Mode string `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// 文档注释：错误到状态码的映射
// 约束：输入错误 400，无匹配 404，远程服务失败 502，其余 500；5xx 不回显内部错误原文。
func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status >= 500 {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, overlay.ErrInputTooShort),
		errors.Is(err, overlay.ErrInvalidCenter),
		errors.Is(err, overlay.ErrUnsupportedKind),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, overlay.ErrNoMatch), errors.Is(err, errNoBoundary):
		return http.StatusNotFound
	case errors.Is(err, geocoder.ErrProviderFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
