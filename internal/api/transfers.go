package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/store"
	"github.com/erazemk/squire/internal/transfer"
)

// TransfersHandler exposes the transfer handshake.
type TransfersHandler struct {
	DB          *sql.DB
	Coordinator *transfer.Coordinator
}

type createTransferRequest struct {
	SourceActorID int64 `json:"source_actor_id" validate:"required,min=1"`
	TargetActorID int64 `json:"target_actor_id" validate:"required,min=1,nefield=SourceActorID"`
	ItemID        int64 `json:"item_id" validate:"required,min=1"`
	// Quantity is optional; without it the whole item moves.
	Quantity *int `json:"quantity" validate:"omitempty,min=1"`
}

// Create handles POST /api/transfers.
func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := CurrentUser(r.Context())
	in := transfer.InitiateInput{
		UserID:        user.ID,
		SourceActorID: req.SourceActorID,
		TargetActorID: req.TargetActorID,
		ItemID:        req.ItemID,
		Quantity:      1,
	}
	if req.Quantity != nil {
		in.Quantity = *req.Quantity
		in.HasQuantity = true
	}

	t, err := h.Coordinator.Initiate(r.Context(), in)
	if err != nil {
		transferError(w, err)
		return
	}

	status := http.StatusAccepted
	if t.Status == model.TransferCompleted {
		status = http.StatusCreated
	}
	slog.Info("transfer started", "user", user.Username, "transfer", t.ID,
		"item", t.ItemName, "quantity", t.Quantity, "status", t.Status)
	jsonResponse(w, status, t)
}

// List handles GET /api/transfers.
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.Coordinator.List(r.Context(), CurrentUser(r.Context()).ID)
	if err != nil {
		transferError(w, err)
		return
	}
	if transfers == nil {
		transfers = []model.TransferRequest{}
	}
	jsonResponse(w, http.StatusOK, transfers)
}

// Get handles GET /api/transfers/{id}.
func (h *TransfersHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.Coordinator.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		transferError(w, err)
		return
	}

	visible, err := h.visible(r.Context(), CurrentUser(r.Context()), t)
	if err != nil {
		slog.Error("failed to check transfer visibility", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !visible {
		jsonError(w, http.StatusNotFound, "transfer not found")
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// visible reports whether u took part in t: as a game master, the sender or
// an owner of either actor.
func (h *TransfersHandler) visible(ctx context.Context, u *model.User, t *model.TransferRequest) (bool, error) {
	if u.IsGamemaster() || t.SourceUserID == u.ID {
		return true, nil
	}
	for _, id := range []int64{t.SourceActorID, t.TargetActorID} {
		actor, err := store.GetActor(ctx, h.DB, id)
		if err != nil {
			return false, err
		}
		if model.HasOwnerPermission(u, actor) {
			return true, nil
		}
	}
	return false, nil
}

// Act handles POST /api/transfers/{id}/{action}.
func (h *TransfersHandler) Act(w http.ResponseWriter, r *http.Request) {
	var act func(context.Context, int64, string) (*model.TransferRequest, error)
	switch action := r.PathValue("action"); action {
	case model.ActionApprove:
		act = h.Coordinator.Approve
	case model.ActionDeny:
		act = h.Coordinator.Deny
	case model.ActionAccept:
		act = h.Coordinator.Accept
	case model.ActionReject:
		act = h.Coordinator.Reject
	default:
		jsonError(w, http.StatusNotFound, "unknown transfer action")
		return
	}

	user := CurrentUser(r.Context())
	t, err := act(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		transferError(w, err)
		return
	}

	slog.Info("transfer action", "user", user.Username, "transfer", t.ID,
		"action", r.PathValue("action"), "status", t.Status)
	jsonResponse(w, http.StatusOK, t)
}
