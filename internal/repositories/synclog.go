package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tsundoku/internal/models"
	"github.com/desertthunder/tsundoku/internal/shared"
)

// SyncLogRepository stores one row per push, pull or drain pass.
//
// It satisfies tasks.PassRecorder, so the sync engine and queue can audit their passes without knowing about SQL.
type SyncLogRepository struct {
	db *sql.DB
}

// NewSyncLogRepository creates a new SyncLogRepository with the given database connection
func NewSyncLogRepository(db *sql.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// RecordPass inserts an audit row for a finished pass.
func (r *SyncLogRepository) RecordPass(operation string, success, failed int, detail string) error {
	query := `
		INSERT INTO sync_log (id, operation, success, failed, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if _, err := r.db.Exec(query, shared.GenerateID(), operation, success, failed, detail, time.Now()); err != nil {
		return fmt.Errorf("failed to insert sync log: %w", err)
	}
	return nil
}

// Recent returns the latest passes, newest first.
func (r *SyncLogRepository) Recent(limit int) ([]models.SyncPass, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, operation, success, failed, detail, created_at
		FROM sync_log
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	passes := make([]models.SyncPass, 0)
	for rows.Next() {
		var p models.SyncPass
		if err := rows.Scan(&p.ID, &p.Operation, &p.Success, &p.Failed, &p.Detail, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		passes = append(passes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return passes, nil
}

// Prune deletes rows older than the given time and returns how many were removed.
func (r *SyncLogRepository) Prune(before time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM sync_log WHERE created_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync log: %w", err)
	}
	return result.RowsAffected()
}
