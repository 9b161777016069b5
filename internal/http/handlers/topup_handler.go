package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"fastlane/internal/controller"
	"fastlane/internal/models"
)

// TopupHandler covers balance credits.
type TopupHandler struct {
	svc    PumpService
	logger *zap.Logger
}

// NewTopupHandler builds handler.
func NewTopupHandler(svc PumpService, logger *zap.Logger) *TopupHandler {
	return &TopupHandler{svc: svc, logger: logger}
}

type topupRequest struct {
	Amount float64 `json:"amount"`
}

// HandleTopup handles POST /topup.
func (h *TopupHandler) HandleTopup(w http.ResponseWriter, r *http.Request) {
	var req topupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	newBalance, err := h.svc.TopUp(r.Context(), models.PaiseFromRupees(req.Amount))
	if err != nil {
		if errors.Is(err, controller.ErrInvalidAmount) || errors.Is(err, controller.ErrNoCard) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("topup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "topup failed")
		return
	}

	writeOK(w, "topup successful", map[string]interface{}{
		"newBalance": models.Rupees(newBalance),
	})
}
