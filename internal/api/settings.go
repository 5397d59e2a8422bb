package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/squire/internal/model"
	"github.com/erazemk/squire/internal/store"
)

// SettingsHandler reads and changes the transfer policy.
type SettingsHandler struct {
	DB *sql.DB
}

type transferSettingsRequest struct {
	ApprovalRequired *bool `json:"approval_required" validate:"required"`
	TimeoutSeconds   int   `json:"timeout_seconds" validate:"required,min=1,max=86400"`
}

// GetTransfers handles GET /api/settings/transfers.
func (h *SettingsHandler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	s, err := store.GetTransferSettings(r.Context(), h.DB)
	if err != nil {
		slog.Error("failed to get transfer settings", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get transfer settings")
		return
	}
	jsonResponse(w, http.StatusOK, s)
}

// UpdateTransfers handles PUT /api/settings/transfers. New values apply to
// transfers started afterwards.
func (h *SettingsHandler) UpdateTransfers(w http.ResponseWriter, r *http.Request) {
	var req transferSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	s := model.TransferSettings{
		ApprovalRequired: *req.ApprovalRequired,
		TimeoutSeconds:   req.TimeoutSeconds,
	}
	if err := store.SetTransferSettings(r.Context(), h.DB, s); err != nil {
		slog.Error("failed to set transfer settings", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save transfer settings")
		return
	}

	slog.Info("transfer settings updated", "user", CurrentUser(r.Context()).Username,
		"approval_required", s.ApprovalRequired, "timeout_seconds", s.TimeoutSeconds)
	jsonResponse(w, http.StatusOK, s)
}
