package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"fastlane/internal/controller"
	"fastlane/internal/models"
)

// DispenseHandler covers begin and emergency stop.
type DispenseHandler struct {
	svc    PumpService
	logger *zap.Logger
}

// NewDispenseHandler builds handler set.
func NewDispenseHandler(svc PumpService, logger *zap.Logger) *DispenseHandler {
	return &DispenseHandler{svc: svc, logger: logger}
}

type startRequest struct {
	Amount float64 `json:"amount"`
}

// HandleStart handles POST /start.
func (h *DispenseHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := h.svc.Begin(r.Context(), models.PaiseFromRupees(req.Amount))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, controller.ErrAdminDispense) {
			status = http.StatusForbidden
		}
		if !isRejection(err) {
			h.logger.Error("start dispense failed", zap.Error(err))
			status = http.StatusInternalServerError
		}
		writeError(w, status, err.Error())
		return
	}

	writeOK(w, "power route connected, press physical START on the pump", nil)
}

// HandleStop handles POST /stop. Always succeeds; stopping an idle pump is
// a no-op.
func (h *DispenseHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	dispensed, stopped := h.svc.Abort(r.Context())
	if !stopped {
		writeOK(w, "motor not running", nil)
		return
	}
	writeOK(w, "stopped, partial amount deducted", map[string]interface{}{
		"dispensed": models.Rupees(dispensed),
	})
}

// isRejection reports whether the error is a precondition failure rather
// than an internal fault.
func isRejection(err error) bool {
	return errors.Is(err, controller.ErrInvalidAmount) ||
		errors.Is(err, controller.ErrNoCard) ||
		errors.Is(err, controller.ErrAdminDispense) ||
		errors.Is(err, controller.ErrAlreadyDispensing) ||
		errors.Is(err, controller.ErrInsufficientBalance)
}
