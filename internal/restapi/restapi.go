// Package restapi implements the small REST surface that sits alongside the
// WebSocket gateway: creating a session and resolving one by id or short
// code, sharing the same Registry.Resolve the WS identify handshake uses
// (spec's "short-code resolution duplicated across REST and WS" design note).
//
// Grounded on the donor's apps/server/internal/auth/http.go HTTPHandler
// (RegisterRoutes on a *http.ServeMux, decodeJSON/writeJSON/writeError
// helpers).
package restapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"twentyeight/internal/engine"
	"twentyeight/internal/registry"
	"twentyeight/internal/rules"
)

// Handler exposes session lifecycle endpoints over plain HTTP.
type Handler struct {
	registry *registry.Registry
	log      *log.Logger
}

// NewHandler constructs a Handler bound to reg.
func NewHandler(reg *registry.Registry, logger *log.Logger) *Handler {
	return &Handler{registry: reg, log: logger}
}

// RegisterRoutes wires this handler's endpoints onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", h.handleCreate)
	mux.HandleFunc("/api/sessions/", h.handleGet)
}

type createSessionRequest struct {
	Mode string `json:"mode"`
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	ShortCode string            `json:"short_code"`
	Public    engine.PublicView `json:"public_state"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = string(rules.Mode28)
	}
	mode := rules.Mode(req.Mode)
	if mode != rules.Mode28 && mode != rules.Mode56 {
		writeError(w, http.StatusBadRequest, "mode must be 28 or 56")
		return
	}

	e, err := h.registry.Create(r.Context(), mode)
	if err != nil {
		h.log.Error("failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: e.ID(),
		ShortCode: e.ShortCode(),
		Public:    e.PublicState(),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idOrCode := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if idOrCode == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	e, ok := h.registry.Resolve(idOrCode)
	if !ok {
		e, err := h.registry.GetOrLoad(r.Context(), idOrCode)
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			SessionID: e.ID(),
			ShortCode: e.ShortCode(),
			Public:    e.PublicState(),
		})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: e.ID(),
		ShortCode: e.ShortCode(),
		Public:    e.PublicState(),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("restapi: empty request body")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
