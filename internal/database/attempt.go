package database

import (
	"context"
	"fmt"
	"time"

	"github.com/callrelay/callrelay/internal/database/models"
)

// attemptRepo implements AttemptRepository.
type attemptRepo struct {
	db *DB
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(db *DB) AttemptRepository {
	return &attemptRepo{db: db}
}

// Create inserts a pending notification attempt before the first send.
func (r *attemptRepo) Create(ctx context.Context, attempt *models.NotificationAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_attempts (id, call_id, tier, recipient, role,
		 channel, attempts, status, provider_msg_id, last_error, last_attempt_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.CallID, attempt.Tier, attempt.Recipient,
		attempt.Role, attempt.Channel, attempt.Attempts, attempt.Status,
		attempt.ProviderMsgID, attempt.LastError, attempt.LastAttemptAt,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting notification attempt: %w", err)
	}
	return nil
}

// Update records the outcome of a send attempt.
func (r *attemptRepo) Update(ctx context.Context, attempt *models.NotificationAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_attempts SET attempts = ?, status = ?,
		 provider_msg_id = ?, last_error = ?, last_attempt_at = ?
		 WHERE id = ?`,
		attempt.Attempts, attempt.Status, attempt.ProviderMsgID,
		attempt.LastError, attempt.LastAttemptAt, attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("updating notification attempt: %w", err)
	}
	return nil
}

// ListByCallID returns all attempts for one call, oldest first.
func (r *attemptRepo) ListByCallID(ctx context.Context, callID string) ([]models.NotificationAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, tier, recipient, role, channel, attempts, status,
		 provider_msg_id, last_error, last_attempt_at, created_at
		 FROM notification_attempts WHERE call_id = ? ORDER BY created_at`, callID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing notification attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.NotificationAttempt
	for rows.Next() {
		var a models.NotificationAttempt
		if err := rows.Scan(&a.ID, &a.CallID, &a.Tier, &a.Recipient, &a.Role,
			&a.Channel, &a.Attempts, &a.Status, &a.ProviderMsgID,
			&a.LastError, &a.LastAttemptAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempt rows: %w", err)
	}

	return attempts, nil
}

// CountByStatus returns attempt counts grouped by terminal status.
func (r *attemptRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM notification_attempts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting attempts by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning attempt count row: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempt count rows: %w", err)
	}

	return counts, nil
}
