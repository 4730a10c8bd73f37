package database

import (
	"context"
	"fmt"
	"time"

	"github.com/callrelay/callrelay/internal/database/models"
)

// auditRepo implements AuditRepository.
type auditRepo struct {
	db *DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *DB) AuditRepository {
	return &auditRepo{db: db}
}

// Append writes one immutable audit row.
func (r *auditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, event_type, call_id, actor, outcome, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EventType, entry.CallID, entry.Actor, entry.Outcome,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// ListByCallID returns the audit trail for one call, oldest first.
func (r *auditRepo) ListByCallID(ctx context.Context, callID string) ([]models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_type, call_id, actor, outcome, created_at
		 FROM audit_log WHERE call_id = ? ORDER BY created_at`, callID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.EventType, &e.CallID, &e.Actor, &e.Outcome, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}

	return entries, nil
}

// CountByType returns audit entry counts grouped by event type.
func (r *auditRepo) CountByType(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM audit_log GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("counting audit entries by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("scanning audit count row: %w", err)
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit count rows: %w", err)
	}

	return counts, nil
}
