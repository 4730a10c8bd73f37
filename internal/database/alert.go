package database

import (
	"context"
	"fmt"
	"time"

	"github.com/callrelay/callrelay/internal/database/models"
)

// alertRepo implements AlertRepository.
type alertRepo struct {
	db *DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *DB) AlertRepository {
	return &alertRepo{db: db}
}

// Create inserts a new escalation alert record.
func (r *alertRepo) Create(ctx context.Context, alert *models.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (call_id, tier, recipients, created_at)
		 VALUES (?, ?, ?, ?)`,
		alert.CallID, alert.Tier, alert.Recipients, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	alert.ID = id
	return nil
}

// ListByCallID returns all alerts fired for one call, oldest first.
func (r *alertRepo) ListByCallID(ctx context.Context, callID string) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, tier, recipients, created_at
		 FROM alerts WHERE call_id = ? ORDER BY created_at`, callID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.CallID, &a.Tier, &a.Recipients, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert rows: %w", err)
	}

	return alerts, nil
}

// CountByTier returns alert counts grouped by tier.
func (r *alertRepo) CountByTier(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM alerts GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("counting alerts by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scanning alert count row: %w", err)
		}
		counts[tier] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alert count rows: %w", err)
	}

	return counts, nil
}
