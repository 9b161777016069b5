package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fastlane/internal/models"
	"fastlane/internal/repository"
)

// HistoryReader lists settled dispenses.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]repository.DispenseRecord, error)
}

type historyEntry struct {
	UID         string  `json:"uid"`
	Authorized  float64 `json:"authorized"`
	Charged     float64 `json:"charged"`
	VolumeLitre float64 `json:"volume_litre"`
	Settlement  string  `json:"settlement"`
	StartedAt   string  `json:"started_at"`
	EndedAt     string  `json:"ended_at"`
}

// NewHistoryHandler returns the GET /history handler.
func NewHistoryHandler(repo HistoryReader, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := repo.Recent(r.Context(), 50)
		if err != nil {
			logger.Error("history query failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to fetch history")
			return
		}

		entries := make([]historyEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, historyEntry{
				UID:         rec.Credential,
				Authorized:  models.Rupees(rec.AuthorizedPaise),
				Charged:     models.Rupees(rec.ChargedPaise),
				VolumeLitre: rec.VolumeLitre,
				Settlement:  rec.Settlement,
				StartedAt:   rec.StartedAt.UTC().Format(time.RFC3339),
				EndedAt:     rec.EndedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
	}
}
