package notification

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sreejagatab/jagatab-realtime/pkg/protocol"
)

// Identity resolves the authenticated user for a REST request. The server's
// auth middleware provides it.
type Identity func(r *http.Request) (userID string, ok bool)

// HTTPHandler serves the REST hydration fallback. Live delivery always goes
// over the socket; these routes exist for initial load and reconnect.
type HTTPHandler struct {
	service  *Service
	identity Identity
	logger   *slog.Logger

	listLimit int
}

func NewHTTPHandler(service *Service, identity Identity, listLimit int, logger *slog.Logger) *HTTPHandler {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &HTTPHandler{
		service:   service,
		identity:  identity,
		listLimit: listLimit,
		logger:    logger.With(slog.String("component", "notification_http")),
	}
}

// Mount registers the hydration routes on mux. Method+path patterns keep
// routing on the same stdlib mux the websocket endpoint uses.
func (h *HTTPHandler) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /notifications", h.handleList)
	mux.HandleFunc("POST /notifications/mark-all-read", h.handleMarkAllRead)
	mux.HandleFunc("DELETE /notifications/{id}", h.handleDelete)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	resp, err := h.service.Hydrate(r.Context(), userID, h.listLimit)
	if err != nil {
		h.logger.Error("hydration failed", "userID", userID, slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, resp)
}

func (h *HTTPHandler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.service.MarkAllRead(r.Context(), userID); err != nil {
		h.logger.Error("mark-all-read failed", "userID", userID, slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, protocol.AllReadPayload{UnreadCount: 0})
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	err := h.service.Delete(r.Context(), id, userID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, protocol.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, protocol.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		h.logger.Error("delete failed", "notificationID", id, slog.Any("error", err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", slog.Any("error", err))
	}
}
