package repository

import (
	"context"
	"database/sql"
	"time"
)

// Settlement kinds.
const (
	SettlementCompleted = "completed"
	SettlementAborted   = "aborted"
)

// DispenseRecord is one settled dispense, full-duration or aborted.
type DispenseRecord struct {
	ID              int64
	Credential      string
	AuthorizedPaise int64
	ChargedPaise    int64
	VolumeLitre     float64
	Settlement      string
	StartedAt       time.Time
	EndedAt         time.Time
}

// HistoryRepository persists settled dispenses for audit and reconciliation.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository returns repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// EnsureSchema creates the history table when missing. The controller runs
// on a single device, so schema setup at startup stands in for migrations.
func (r *HistoryRepository) EnsureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS dispense_history (
			id BIGSERIAL PRIMARY KEY,
			credential TEXT NOT NULL,
			authorized_paise BIGINT NOT NULL,
			charged_paise BIGINT NOT NULL,
			volume_litre DOUBLE PRECISION NOT NULL,
			settlement TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

// Record inserts a settled dispense.
func (r *HistoryRepository) Record(ctx context.Context, rec DispenseRecord) error {
	const query = `
		INSERT INTO dispense_history (credential, authorized_paise, charged_paise, volume_litre, settlement, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.Credential,
		rec.AuthorizedPaise,
		rec.ChargedPaise,
		rec.VolumeLitre,
		rec.Settlement,
		rec.StartedAt,
		rec.EndedAt,
	)
	return err
}

// Recent returns the last N settled dispenses, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]DispenseRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, credential, authorized_paise, charged_paise, volume_litre, settlement, started_at, ended_at
		FROM dispense_history
		ORDER BY ended_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DispenseRecord
	for rows.Next() {
		var rec DispenseRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Credential,
			&rec.AuthorizedPaise,
			&rec.ChargedPaise,
			&rec.VolumeLitre,
			&rec.Settlement,
			&rec.StartedAt,
			&rec.EndedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
