package api

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/store"
)

// ActorsHandler handles actors, their ownership and their inventories.
type ActorsHandler struct {
	DB *sql.DB
}

type createActorRequest struct {
	Name              string                `json:"name" validate:"required,max=128"`
	Type              string                `json:"type" validate:"required,oneof=character npc container"`
	DefaultPermission model.PermissionLevel `json:"default_permission" validate:"permission"`
}

type updateActorRequest struct {
	Name              string                `json:"name" validate:"required,max=128"`
	DefaultPermission model.PermissionLevel `json:"default_permission" validate:"permission"`
}

type ownershipRequest struct {
	UserID int64                 `json:"user_id" validate:"required,min=1"`
	Level  model.PermissionLevel `json:"level" validate:"permission"`
}

type createItemRequest struct {
	Name     string          `json:"name" validate:"required,max=128"`
	Quantity *int            `json:"quantity" validate:"omitempty,min=1"`
	Data     json.RawMessage `json:"data"`
}

// levelOf returns the user's effective level on an actor. Game masters own
// every actor.
func levelOf(u *model.User, a *model.Actor) model.PermissionLevel {
	if u.IsGamemaster() {
		return model.PermissionOwner
	}
	return a.LevelFor(u.ID)
}

// actorAtLevel loads the actor named by the path and checks that the current
// user holds at least the given level on it. It writes the error response
// itself and returns nil when the request cannot proceed.
func (h *ActorsHandler) actorAtLevel(w http.ResponseWriter, r *http.Request, minLevel model.PermissionLevel) *model.Actor {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid actor id")
		return nil
	}
	return loadActorAtLevel(w, r, h.DB, id, minLevel)
}

func loadActorAtLevel(w http.ResponseWriter, r *http.Request, db *sql.DB, id int64, minLevel model.PermissionLevel) *model.Actor {
	actor, err := store.GetActor(r.Context(), db, id)
	if err != nil {
		slog.Error("failed to get actor", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get actor")
		return nil
	}
	if actor == nil {
		jsonError(w, http.StatusNotFound, "actor not found")
		return nil
	}
	level := levelOf(CurrentUser(r.Context()), actor)
	if level < minLevel {
		// Actors the user cannot see at all look absent.
		if level < model.PermissionLimited {
			jsonError(w, http.StatusNotFound, "actor not found")
		} else {
			jsonError(w, http.StatusForbidden, "insufficient permissions")
		}
		return nil
	}
	return actor
}

// List handles GET /api/actors.
func (h *ActorsHandler) List(w http.ResponseWriter, r *http.Request) {
	actorType := r.URL.Query().Get("type")
	if actorType != "" && !model.ValidActorType(actorType) {
		jsonError(w, http.StatusBadRequest, "invalid actor type")
		return
	}

	actors, err := store.ListActors(r.Context(), h.DB, actorType)
	if err != nil {
		slog.Error("failed to list actors", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list actors")
		return
	}
	if actors == nil {
		actors = []model.Actor{}
	}
	jsonResponse(w, http.StatusOK, actors)
}

// Create handles POST /api/actors.
func (h *ActorsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createActorRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor, err := store.CreateActor(r.Context(), h.DB, req.Name, req.Type, req.DefaultPermission)
	if err != nil {
		slog.Error("failed to create actor", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create actor")
		return
	}

	slog.Info("actor created", "user", CurrentUser(r.Context()).Username, "actor", actor.Name, "type", actor.Type)
	jsonResponse(w, http.StatusCreated, actor)
}

// Get handles GET /api/actors/{id}.
func (h *ActorsHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := h.actorAtLevel(w, r, model.PermissionLimited)
	if actor == nil {
		return
	}
	jsonResponse(w, http.StatusOK, actor)
}

// Update handles PUT /api/actors/{id}.
func (h *ActorsHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor := h.actorAtLevel(w, r, model.PermissionOwner)
	if actor == nil {
		return
	}

	var req updateActorRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.UpdateActor(r.Context(), h.DB, actor.ID, req.Name, req.DefaultPermission); err != nil {
		slog.Error("failed to update actor", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update actor")
		return
	}

	updated, err := store.GetActor(r.Context(), h.DB, actor.ID)
	if err != nil || updated == nil {
		jsonError(w, http.StatusNotFound, "actor not found")
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/actors/{id}.
func (h *ActorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid actor id")
		return
	}

	if err := store.DeleteActor(r.Context(), h.DB, id); err != nil {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}

	slog.Info("actor deleted", "user", CurrentUser(r.Context()).Username, "actor", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "actor deleted"})
}

// SetOwnership handles PUT /api/actors/{id}/ownership.
func (h *ActorsHandler) SetOwnership(w http.ResponseWriter, r *http.Request) {
	actor := h.actorAtLevel(w, r, model.PermissionOwner)
	if actor == nil {
		return
	}

	var req ownershipRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := store.GetUser(r.Context(), h.DB, req.UserID)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if target == nil || target.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := store.SetOwnership(r.Context(), h.DB, actor.ID, target.ID, req.Level); err != nil {
		slog.Error("failed to set ownership", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to set ownership")
		return
	}

	slog.Info("actor ownership set", "user", CurrentUser(r.Context()).Username,
		"actor", actor.Name, "target_user", target.Username, "level", req.Level.String())

	updated, err := store.GetActor(r.Context(), h.DB, actor.ID)
	if err != nil || updated == nil {
		jsonError(w, http.StatusNotFound, "actor not found")
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Items handles GET /api/actors/{id}/items.
func (h *ActorsHandler) Items(w http.ResponseWriter, r *http.Request) {
	actor := h.actorAtLevel(w, r, model.PermissionObserver)
	if actor == nil {
		return
	}

	items, err := store.ListActorItems(r.Context(), h.DB, actor.ID)
	if err != nil {
		slog.Error("failed to list items", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []model.Item{}
	}
	jsonResponse(w, http.StatusOK, items)
}

// CreateItem handles POST /api/actors/{id}/items.
func (h *ActorsHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	actor := h.actorAtLevel(w, r, model.PermissionOwner)
	if actor == nil {
		return
	}

	var req createItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := store.CreateItem(r.Context(), h.DB, model.NewItem{
		ActorID:  actor.ID,
		Name:     req.Name,
		Quantity: req.Quantity,
		Data:     req.Data,
	})
	if err != nil {
		slog.Error("failed to create item", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	slog.Info("item created", "user", CurrentUser(r.Context()).Username, "actor", actor.Name, "item", item.Name)
	jsonResponse(w, http.StatusCreated, item)
}

// History handles GET /api/actors/{id}/history.
func (h *ActorsHandler) History(w http.ResponseWriter, r *http.Request) {
	actor := h.actorAtLevel(w, r, model.PermissionObserver)
	if actor == nil {
		return
	}

	moves, err := store.ListActorMoves(r.Context(), h.DB, actor.ID)
	if err != nil {
		slog.Error("failed to list moves", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get actor history")
		return
	}
	if moves == nil {
		moves = []model.ItemMove{}
	}
	jsonResponse(w, http.StatusOK, moves)
}
