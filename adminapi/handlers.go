package adminapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/c360/configstore/errors"
	"github.com/c360/configstore/pkg/cache"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type statsResponse struct {
	cache.Stats
	MissRate float64 `json:"miss_rate"`
}

type collectionInfo struct {
	Name      string   `json:"name"`
	Watcher   string   `json:"watcher"`
	Cached    bool     `json:"cached"`
	Languages []string `json:"languages,omitempty"`
}

type reloadRequest struct {
	Collections []string `json:"collections"`
	Concurrency int      `json:"concurrency"`
}

type reloadResponse struct {
	OK        bool              `json:"ok"`
	Requested []string          `json:"requested"`
	Reloaded  []string          `json:"reloaded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errors.KindOf(err) {
	case errors.KindIllegalState, errors.KindChangeFeedFatal:
		return http.StatusServiceUnavailable
	case errors.KindConnection, errors.KindPersistence:
		return http.StatusBadGateway
	case errors.KindVersionConflict:
		return http.StatusConflict
	case errors.KindCodec:
		return http.StatusBadRequest
	case errors.KindDecode:
		return http.StatusInternalServerError
	}
	if errors.IsInvalid(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("Admin request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error(), Kind: errors.KindOf(err).String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.store.Health()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.store.GetCacheStats()
	s.writeJSON(w, http.StatusOK, statsResponse{Stats: stats, MissRate: stats.MissRate()})
}

func (s *Server) handleResetStats(w http.ResponseWriter, _ *http.Request) {
	s.store.Cache().ResetStats()
	s.logger.Info("Cache statistics reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidateAll(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.InvalidateAllAsync(r.Context()).Get(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReloadBatch(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		s.writeError(w, r, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"adminapi", "handleReloadBatch", "decode request"))
		return
	}
	if len(req.Collections) == 0 {
		req.Collections = s.store.Collections()
	}
	if req.Concurrency == 0 {
		req.Concurrency = s.reloadConcurrency
	}

	report, err := s.store.ReloadCollectionsBatchAsync(r.Context(), req.Collections, req.Concurrency).Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := reloadResponse{
		OK:        report.OK(),
		Requested: report.Requested,
		Reloaded:  report.Reloaded,
	}
	code := http.StatusOK
	if !report.OK() {
		resp.Failed = report.FailureMessages()
		code = http.StatusMultiStatus
		s.logger.Warn("Batch reload incomplete", "failed", len(report.Failed), "error", report.Err())
	}
	s.writeJSON(w, code, resp)
}

func (s *Server) handleCollections(w http.ResponseWriter, _ *http.Request) {
	names := s.store.Collections()
	out := make([]collectionInfo, 0, len(names))
	for _, name := range names {
		out = append(out, s.describe(name))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) describe(name string) collectionInfo {
	info := collectionInfo{
		Name:    name,
		Watcher: "disabled",
		Cached:  s.store.Cache().Contains(cache.ConfigScope(name)),
	}
	if state, ok := s.store.WatcherState(name); ok {
		info.Watcher = state.String()
	}
	return info
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !slices.Contains(s.store.Collections(), name) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{
			Error: fmt.Sprintf("collection %q is not attached", name),
			Kind:  errors.KindUnknown.String(),
		})
		return
	}

	info := s.describe(name)
	langs, err := s.store.LanguagesOf(r.Context(), name).Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info.Languages = langs
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.store.Cache().Invalidate(name)
	s.logger.Info("Collection invalidated", "collection", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := s.store.ReloadCollectionAsync(r.Context(), name).Get(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfigSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	snap, err := s.store.ConfigSnapshot(r.Context(), name).Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msg, err := s.store.GetMessageAsync(r.Context(), vars["name"], vars["lang"], vars["key"]).Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"collection": vars["name"],
		"lang":       vars["lang"],
		"key":        vars["key"],
		"message":    msg,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.config.Get().Redacted())
}
