package api

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/notify"
)

// NoticesHandler serves a user's private notices.
type NoticesHandler struct {
	Notices *notify.Service
	Hub     *notify.Hub
}

// List handles GET /api/notices.
func (h *NoticesHandler) List(w http.ResponseWriter, r *http.Request) {
	notices, err := h.Notices.ListForUser(r.Context(), CurrentUser(r.Context()).ID)
	if err != nil {
		slog.Error("failed to list notices", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list notices")
		return
	}
	if notices == nil {
		notices = []model.Notice{}
	}
	jsonResponse(w, http.StatusOK, notices)
}

// Delete handles DELETE /api/notices/{id}. Deleting a notice that is already
// gone succeeds.
func (h *NoticesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid notice id")
		return
	}

	n, err := h.Notices.Get(r.Context(), id)
	if err != nil {
		slog.Error("failed to get notice", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get notice")
		return
	}
	user := CurrentUser(r.Context())
	if n == nil || (!slices.Contains(n.Recipients, user.ID) && !user.IsGamemaster()) {
		jsonError(w, http.StatusNotFound, "notice not found")
		return
	}

	deleted, err := h.Notices.Delete(r.Context(), id)
	if err != nil {
		slog.Error("failed to delete notice", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete notice")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// Stream handles GET /api/notices/ws.
func (h *NoticesHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r.Context())
	if err := h.Hub.ServeWS(w, r, user); err != nil {
		// The upgrader has already answered the client.
		slog.Warn("websocket upgrade failed", "user", user.Username, "error", err)
		return
	}
	slog.Debug("notice stream opened", "user", user.Username)
}
