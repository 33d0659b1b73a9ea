package handler

import (
	"net/http"

	"github.com/templui/pledge/internal/service"
)

// CronHandler exposes the periodic passes to an external scheduler.
type CronHandler struct {
	settlementService *service.SettlementService
	reminderService   *service.ReminderService
	retentionService  *service.RetentionService
}

func NewCronHandler(settlementService *service.SettlementService, reminderService *service.ReminderService, retentionService *service.RetentionService) *CronHandler {
	return &CronHandler{
		settlementService: settlementService,
		reminderService:   reminderService,
		retentionService:  retentionService,
	}
}

func (h *CronHandler) ProcessExpiredGoals(w http.ResponseWriter, r *http.Request) {
	result, err := h.settlementService.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CronHandler) SendReminders(w http.ResponseWriter, r *http.Request) {
	result, err := h.reminderService.SendDeadlineReminders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *CronHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	result, err := h.retentionService.Cleanup(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
