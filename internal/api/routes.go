// 包 api：集中注册外壳 HTTP API 路由以解耦主入口
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"geosearch/internal/geo"
	"geosearch/internal/logger"
	"geosearch/internal/mapsurface"
	"geosearch/internal/overlay"
	"geosearch/internal/suggest"
)

var (
	errBadRequest = errors.New("bad request")
	errNoBoundary = errors.New("no boundary")
)

const maxBody = 64 << 10

type EntitySource interface {
	All(kind geo.Kind) []geo.Entity
}

type HistoryStore interface {
	List() ([]geo.HistoryEntry, error)
	Clear() error
}

// 文档注释：路由依赖
// 约束：Surface 为空时 /overlay 只返回同步器快照；Boundaries 为空时不注册 /boundary。
type Deps struct {
	Aggregator *suggest.Aggregator
	Sync       *overlay.Synchronizer
	Entities   EntitySource
	History    HistoryStore
	Boundaries BoundaryLookup
	Surface    *mapsurface.Memory
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	l := logger.For("api")
	live := newSessions(d.Aggregator, sessionTTL)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /suggest", func(w http.ResponseWriter, r *http.Request) {
		cat, err := geo.ParseCategory(r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		q := geo.Query{Text: r.URL.Query().Get("q"), Category: cat}
		if id := r.URL.Query().Get("session"); id != "" {
			live.serve(w, r, id, q)
			return
		}
		res := d.Aggregator.Aggregate(r.Context(), q)
		writeJSON(w, http.StatusOK, newSuggestResponse(res))
	})

	mux.HandleFunc("POST /select", func(w http.ResponseWriter, r *http.Request) {
		var sg geo.Suggestion
		if err := decode(w, r, &sg); err != nil {
			writeError(w, err)
			return
		}
		if err := d.Sync.SelectSuggestion(r.Context(), sg); err != nil {
			l.Debug("api_select_error", "id", sg.ID, "err", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Sync.Snapshot())
	})

	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := decode(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		sg, err := d.Sync.SubmitFreeTextSearch(r.Context(), req.Text)
		if err != nil {
			if statusOf(err) >= 500 {
				l.Warn("api_search_error", "err", err)
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sg)
	})

	mux.HandleFunc("PUT /markers/{kind}", func(w http.ResponseWriter, r *http.Request) {
		kind, err := geo.ParseKind(r.PathValue("kind"))
		if err != nil {
			writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		var es []geo.Entity
		if kind != geo.KindPlace {
			es = d.Entities.All(kind)
		}
		n, err := d.Sync.SetBulkMarkers(kind, es)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, markersResponse{Kind: kind.String(), Count: n})
	})

	mux.HandleFunc("POST /terrain", func(w http.ResponseWriter, r *http.Request) {
		mode, err := d.Sync.ToggleTerrainMode()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, terrainResponse{Mode: mode.String()})
	})

	mux.HandleFunc("GET /overlay", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]any{"overlay": d.Sync.Snapshot()}
		if d.Surface != nil {
			out["surface"] = d.Surface.State()
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		entries, err := d.History.List()
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []geo.HistoryEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("DELETE /history", func(w http.ResponseWriter, r *http.Request) {
		if err := d.History.Clear(); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if d.Boundaries != nil {
		mux.Handle("GET /boundary", boundaryHandler(d.Boundaries))
	}
	return mux
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
