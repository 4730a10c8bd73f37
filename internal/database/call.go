package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/callrelay/callrelay/internal/database/models"
)

// callRepo implements CallRepository.
type callRepo struct {
	db *DB
}

// NewCallRepository creates a new CallRepository.
func NewCallRepository(db *DB) CallRepository {
	return &callRepo{db: db}
}

// Upsert inserts or replaces the call record keyed by call_id.
func (r *callRepo) Upsert(ctx context.Context, call *models.Call) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, phone_number, assistant_id, started_at,
		 ended_at, status, transcript, client_name, address, problem, tier)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET
		 phone_number = excluded.phone_number,
		 assistant_id = excluded.assistant_id,
		 ended_at = excluded.ended_at,
		 status = excluded.status,
		 transcript = excluded.transcript,
		 client_name = excluded.client_name,
		 address = excluded.address,
		 problem = excluded.problem,
		 tier = excluded.tier`,
		call.CallID, call.PhoneNumber, call.AssistantID, call.StartedAt,
		call.EndedAt, call.Status, call.Transcript, call.ClientName,
		call.Address, call.Problem, call.Tier,
	)
	if err != nil {
		return fmt.Errorf("upserting call: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil && id > 0 {
		call.ID = id
	}
	return nil
}

// GetByCallID returns a call record by platform call id.
func (r *callRepo) GetByCallID(ctx context.Context, callID string) (*models.Call, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, call_id, phone_number, assistant_id, started_at, ended_at,
		 status, transcript, client_name, address, problem, tier
		 FROM calls WHERE call_id = ?`, callID,
	))
}

// ListRecent returns the most recent calls up to the given limit.
func (r *callRepo) ListRecent(ctx context.Context, limit int) ([]models.Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, phone_number, assistant_id, started_at, ended_at,
		 status, transcript, client_name, address, problem, tier
		 FROM calls ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recent calls: %w", err)
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var c models.Call
		if err := rows.Scan(&c.ID, &c.CallID, &c.PhoneNumber, &c.AssistantID,
			&c.StartedAt, &c.EndedAt, &c.Status, &c.Transcript,
			&c.ClientName, &c.Address, &c.Problem, &c.Tier); err != nil {
			return nil, fmt.Errorf("scanning call row: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call rows: %w", err)
	}

	return calls, nil
}

// CountByTier returns call counts grouped by priority tier.
func (r *callRepo) CountByTier(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tier, COUNT(*) FROM calls WHERE tier != '' GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("counting calls by tier: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scanning call count row: %w", err)
		}
		counts[tier] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating call count rows: %w", err)
	}

	return counts, nil
}

func (r *callRepo) scanOne(row *sql.Row) (*models.Call, error) {
	var c models.Call
	err := row.Scan(&c.ID, &c.CallID, &c.PhoneNumber, &c.AssistantID,
		&c.StartedAt, &c.EndedAt, &c.Status, &c.Transcript,
		&c.ClientName, &c.Address, &c.Problem, &c.Tier)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}
