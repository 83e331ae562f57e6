// Package httpapi implements the HTTP surface exposed to the Gateway.
//
// All routes expect an x-user-id header forwarded by the Gateway.
//
// Routes:
//
//	GET  /missions                  → session snapshot {missions, stats, loading, error, lastCompleted}
//	POST /missions/refresh          → restart the user's sync session
//	POST /missions/completed/clear  → consume the pending completion toast
package httpapi

import (
	"encoding/json"
	"net/http"

	"jobmate/missions-service/internal/missions"
)

// Handler holds shared dependencies.
type Handler struct {
	mgr *missions.Manager
}

// NewHandler returns a configured Handler.
func NewHandler(mgr *missions.Manager) *Handler {
	return &Handler{mgr: mgr}
}

// RegisterRoutes mounts all missions-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/missions", h.handleMissions)
	mux.HandleFunc("/missions/refresh", h.handleRefresh)
	mux.HandleFunc("/missions/completed/clear", h.handleClearCompleted)
}

func (h *Handler) handleMissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)
	if s == nil {
		return
	}
	jsonOK(w, s.Snapshot())
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)
	if s == nil {
		return
	}
	s.Refresh()
	jsonOK(w, map[string]string{"status": "refreshing"})
}

func (h *Handler) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := h.session(w, r)
	if s == nil {
		return
	}
	s.ClearCompleted()
	jsonOK(w, map[string]string{"status": "cleared"})
}

// session resolves the caller's session, writing the error response itself
// when the request is unauthenticated or the service is shutting down.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) *missions.Session {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return nil
	}
	s := h.mgr.Session(userID)
	if s == nil {
		jsonError(w, "service shutting down", http.StatusServiceUnavailable)
		return nil
	}
	return s
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
