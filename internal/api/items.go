package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/squire/internal/imaging"
	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/store"
)

// ItemsHandler handles single-item endpoints. Access follows the holding actor.
type ItemsHandler struct {
	DB *sql.DB
}

// itemAtLevel loads the item named by the path and checks the current user's
// level on the actor holding it.
func (h *ItemsHandler) itemAtLevel(w http.ResponseWriter, r *http.Request, minLevel model.PermissionLevel) *model.Item {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return nil
	}

	item, err := store.GetItem(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get item")
		return nil
	}
	if item == nil {
		jsonError(w, http.StatusNotFound, "item not found")
		return nil
	}

	if loadActorAtLevel(w, r, h.DB, item.ActorID, minLevel) == nil {
		return nil
	}
	return item
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item := h.itemAtLevel(w, r, model.PermissionObserver)
	if item == nil {
		return
	}
	jsonResponse(w, http.StatusOK, item)
}

// UploadIcon handles PUT /api/items/{id}/icon. The body is the raw image.
func (h *ItemsHandler) UploadIcon(w http.ResponseWriter, r *http.Request) {
	item := h.itemAtLevel(w, r, model.PermissionOwner)
	if item == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1)
	defer r.Body.Close()

	icon, err := imaging.ProcessIcon(r.Body)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.SetItemIcon(r.Context(), h.DB, item.ID, icon.Data, icon.MIME); err != nil {
		slog.Error("failed to save icon", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save icon")
		return
	}

	slog.Info("item icon set", "user", CurrentUser(r.Context()).Username, "item", item.Name, "bytes", len(icon.Data))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "icon uploaded"})
}

// GetIcon handles GET /api/items/{id}/icon.
func (h *ItemsHandler) GetIcon(w http.ResponseWriter, r *http.Request) {
	item := h.itemAtLevel(w, r, model.PermissionObserver)
	if item == nil {
		return
	}

	data, mime, err := store.GetItemIcon(r.Context(), h.DB, item.ID)
	if err != nil {
		slog.Error("failed to get icon", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get icon")
		return
	}
	if len(data) == 0 {
		jsonError(w, http.StatusNotFound, "no icon")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// MarkSeen handles POST /api/items/{id}/seen.
func (h *ItemsHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	item := h.itemAtLevel(w, r, model.PermissionOwner)
	if item == nil {
		return
	}

	if err := store.MarkItemSeen(r.Context(), h.DB, item.ID); err != nil {
		slog.Error("failed to mark item seen", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to mark item seen")
		return
	}
	item.RecentlyAdded = false
	jsonResponse(w, http.StatusOK, item)
}
