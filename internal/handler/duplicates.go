package handler

import (
	"log/slog"
	"net/http"

	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/service"
)

// DuplicatesHandler serves the operator tools for goals created twice.
type DuplicatesHandler struct {
	dedupService *service.DedupService
}

func NewDuplicatesHandler(dedupService *service.DedupService) *DuplicatesHandler {
	return &DuplicatesHandler{dedupService: dedupService}
}

func (h *DuplicatesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, r, apperr.Invalid("userId", "userId is required"))
		return
	}

	groups, err := h.dedupService.FindDuplicates(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if groups == nil {
		groups = []service.DuplicateGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicates": groups, "count": len(groups)})
}

type cleanupDuplicatesRequest struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

func (h *DuplicatesHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupDuplicatesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	deleted, err := h.dedupService.Cleanup(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("duplicate goals removed", "user_id", req.UserID, "deleted", deleted)
	writeJSON(w, http.StatusOK, map[string]int{"deletedCount": deleted})
}
