package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/junctionhq/junction/pkg/bus"
	"github.com/junctionhq/junction/pkg/types"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.NewError(types.KindMissingField, "request body is not valid JSON"))
		return
	}

	rec, err := s.registry.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := types.ListFilter{
		Type:   types.IntegrationType(r.URL.Query().Get("type")),
		Status: types.IntegrationStatus(r.URL.Query().Get("status")),
		Tag:    r.URL.Query().Get("tag"),
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"integrations": s.registry.List(filter),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch types.Config
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, types.NewError(types.KindMissingField, "request body is not valid JSON"))
		return
	}

	rec, err := s.registry.UpdateConfig(chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Enable(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	status, err := s.registry.Disable(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// handleDeintegrate starts the teardown pipeline. The optional body
// carries the policy, preserveData, force, and schedule time.
func (s *Server) handleDeintegrate(w http.ResponseWriter, r *http.Request) {
	var opts types.DeintegrateOptions
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, types.NewError(types.KindMissingField, "request body is not valid JSON"))
			return
		}
	}

	run, err := s.manager.Deintegrate(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		// A failed run still carries the step trail
		if run != nil {
			writeErrorWithDetail(w, err, map[string]any{"deintegration": run})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	result, err := s.registry.Test(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, types.NewError(types.KindMissingField, "request body is not valid JSON"))
			return
		}
	}

	out, err := s.registry.ExecuteAction(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "action"), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": out})
}

func (s *Server) handleIntegrationMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.GetMetrics(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListDeintegrations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"deintegrations": s.manager.List(),
	})
}

func (s *Server) handleGetDeintegration(w http.ResponseWriter, r *http.Request) {
	run, err := s.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleConfirmManual(w http.ResponseWriter, r *http.Request) {
	run, err := s.manager.ConfirmManual(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleReintegrate(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.Reintegrate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := bus.HistoryFilter{
		Topic:         q.Get("topic"),
		CorrelationID: q.Get("correlationId"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, types.NewError(types.KindMissingField, "limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, types.NewError(types.KindMissingField, "since must be RFC3339"))
			return
		}
		filter.Since = t
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": s.bus.GetHistory(filter),
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.scanner == nil {
		writeError(w, types.NewError(types.KindTypeUnavailable, "auto-discovery is disabled"))
		return
	}
	registered := s.scanner.ScanOnce(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": registered,
	})
}
