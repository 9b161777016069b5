package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"fastlane/internal/models"
)

// CardHandler covers manual credential submission.
type CardHandler struct {
	svc    PumpService
	logger *zap.Logger
}

// NewCardHandler builds handler.
func NewCardHandler(svc PumpService, logger *zap.Logger) *CardHandler {
	return &CardHandler{svc: svc, logger: logger}
}

type setUIDRequest struct {
	UID     string   `json:"uid"`
	Balance *float64 `json:"balance,omitempty"`
	Name    *string  `json:"name,omitempty"`
}

// HandleSetUID handles POST /setuid. A balance/name pair from a trusted
// caller short-circuits the remote lookup.
func (h *CardHandler) HandleSetUID(w http.ResponseWriter, r *http.Request) {
	var req setUIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "invalid UID")
		return
	}

	if req.Balance != nil && req.Name != nil {
		st, err := h.svc.SetCredentialWithAccount(req.UID, *req.Name, models.PaiseFromRupees(*req.Balance))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Info("credential set by caller", zap.String("uid", st.Credential))
		writeOK(w, "user loaded from caller", nil)
		return
	}

	st, err := h.svc.SetCredential(r.Context(), req.UID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if st.Mode == models.ModeUnknown {
		writeOK(w, "UID set (offline mode)", nil)
		return
	}
	writeOK(w, "user loaded", nil)
}
