// Package pgstore implements the persistence gateway on PostgreSQL for
// multi-instance deployments. Single-instance installs use the SQLite store
// in the parent package; the repository interfaces are identical.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/callrelay/callrelay/internal/database"
	"github.com/callrelay/callrelay/internal/database/models"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store holds the PostgreSQL connection behind the repository
// implementations below.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("postgresql store opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Gateway returns the repository bundle backed by this store.
func (s *Store) Gateway() *database.Gateway {
	return &database.Gateway{
		Calls:    &callRepo{db: s.db},
		Alerts:   &alertRepo{db: s.db},
		Attempts: &attemptRepo{db: s.db},
		Audit:    &auditRepo{db: s.db},
	}
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version)
	}

	return nil
}

// callRepo implements database.CallRepository on PostgreSQL.
type callRepo struct {
	db *sql.DB
}

func (r *callRepo) Upsert(ctx context.Context, call *models.Call) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO calls (call_id, phone_number, assistant_id, started_at,
		 ended_at, status, transcript, client_name, address, problem, tier)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT(call_id) DO UPDATE SET
		 phone_number = EXCLUDED.phone_number,
		 assistant_id = EXCLUDED.assistant_id,
		 ended_at = EXCLUDED.ended_at,
		 status = EXCLUDED.status,
		 transcript = EXCLUDED.transcript,
		 client_name = EXCLUDED.client_name,
		 address = EXCLUDED.address,
		 problem = EXCLUDED.problem,
		 tier = EXCLUDED.tier
		 RETURNING id`,
		call.CallID, call.PhoneNumber, call.AssistantID, call.StartedAt,
		call.EndedAt, call.Status, call.Transcript, call.ClientName,
		call.Address, call.Problem, call.Tier,
	).Scan(&call.ID)
	if err != nil {
		return fmt.Errorf("upserting call: %w", err)
	}
	return nil
}

func (r *callRepo) GetByCallID(ctx context.Context, callID string) (*models.Call, error) {
	var c models.Call
	err := r.db.QueryRowContext(ctx,
		`SELECT id, call_id, phone_number, assistant_id, started_at, ended_at,
		 status, transcript, client_name, address, problem, tier
		 FROM calls WHERE call_id = $1`, callID,
	).Scan(&c.ID, &c.CallID, &c.PhoneNumber, &c.AssistantID, &c.StartedAt,
		&c.EndedAt, &c.Status, &c.Transcript, &c.ClientName, &c.Address,
		&c.Problem, &c.Tier)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning call: %w", err)
	}
	return &c, nil
}

func (r *callRepo) ListRecent(ctx context.Context, limit int) ([]models.Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, phone_number, assistant_id, started_at, ended_at,
		 status, transcript, client_name, address, problem, tier
		 FROM calls ORDER BY started_at DESC LIMIT $1`, limit,
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

func (r *callRepo) CountByTier(ctx context.Context) (map[string]int64, error) {
	return countGrouped(ctx, r.db, `SELECT tier, COUNT(*) FROM calls WHERE tier != '' GROUP BY tier`)
}

// alertRepo implements database.AlertRepository on PostgreSQL.
type alertRepo struct {
	db *sql.DB
}

func (r *alertRepo) Create(ctx context.Context, alert *models.Alert) error {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO alerts (call_id, tier, recipients, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		alert.CallID, alert.Tier, alert.Recipients, alert.CreatedAt,
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("inserting alert: %w", err)
	}
	return nil
}

func (r *alertRepo) ListByCallID(ctx context.Context, callID string) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, tier, recipients, created_at
		 FROM alerts WHERE call_id = $1 ORDER BY created_at`, callID,
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

func (r *alertRepo) CountByTier(ctx context.Context) (map[string]int64, error) {
	return countGrouped(ctx, r.db, `SELECT tier, COUNT(*) FROM alerts GROUP BY tier`)
}

// attemptRepo implements database.AttemptRepository on PostgreSQL.
type attemptRepo struct {
	db *sql.DB
}

func (r *attemptRepo) Create(ctx context.Context, attempt *models.NotificationAttempt) error {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_attempts (id, call_id, tier, recipient, role,
		 channel, attempts, status, provider_msg_id, last_error, last_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
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

func (r *attemptRepo) Update(ctx context.Context, attempt *models.NotificationAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE notification_attempts SET attempts = $1, status = $2,
		 provider_msg_id = $3, last_error = $4, last_attempt_at = $5
		 WHERE id = $6`,
		attempt.Attempts, attempt.Status, attempt.ProviderMsgID,
		attempt.LastError, attempt.LastAttemptAt, attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("updating notification attempt: %w", err)
	}
	return nil
}

func (r *attemptRepo) ListByCallID(ctx context.Context, callID string) ([]models.NotificationAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_id, tier, recipient, role, channel, attempts, status,
		 provider_msg_id, last_error, last_attempt_at, created_at
		 FROM notification_attempts WHERE call_id = $1 ORDER BY created_at`, callID,
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

func (r *attemptRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	return countGrouped(ctx, r.db, `SELECT status, COUNT(*) FROM notification_attempts GROUP BY status`)
}

// auditRepo implements database.AuditRepository on PostgreSQL.
type auditRepo struct {
	db *sql.DB
}

func (r *auditRepo) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, event_type, call_id, actor, outcome, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.EventType, entry.CallID, entry.Actor, entry.Outcome,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByCallID(ctx context.Context, callID string) ([]models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event_type, call_id, actor, outcome, created_at
		 FROM audit_log WHERE call_id = $1 ORDER BY created_at`, callID,
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

func (r *auditRepo) CountByType(ctx context.Context) (map[string]int64, error) {
	return countGrouped(ctx, r.db, `SELECT event_type, COUNT(*) FROM audit_log GROUP BY event_type`)
}

// countGrouped runs a two-column (key, count) query into a map.
func countGrouped(ctx context.Context, db *sql.DB, query string) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("counting rows: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating count rows: %w", err)
	}
	return counts, nil
}
