package database

import (
	"context"

	"github.com/callrelay/callrelay/internal/database/models"
)

// CallRepository manages durable call records. Upsert is keyed by the
// platform call id so repeated writes for the same call stay one row.
type CallRepository interface {
	Upsert(ctx context.Context, call *models.Call) error
	GetByCallID(ctx context.Context, callID string) (*models.Call, error)
	ListRecent(ctx context.Context, limit int) ([]models.Call, error)
	CountByTier(ctx context.Context) (map[string]int64, error)
}

// AlertRepository manages escalation alert records.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	ListByCallID(ctx context.Context, callID string) ([]models.Alert, error)
	CountByTier(ctx context.Context) (map[string]int64, error)
}

// AttemptRepository manages notification delivery attempts.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *models.NotificationAttempt) error
	Update(ctx context.Context, attempt *models.NotificationAttempt) error
	ListByCallID(ctx context.Context, callID string) ([]models.NotificationAttempt, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// AuditRepository appends to the immutable audit trail. There is no update
// or delete by design.
type AuditRepository interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListByCallID(ctx context.Context, callID string) ([]models.AuditEntry, error)
	CountByType(ctx context.Context) (map[string]int64, error)
}

// Gateway bundles the repositories the pipeline needs. Both the SQLite
// store in this package and the PostgreSQL store in pgstore satisfy it.
type Gateway struct {
	Calls    CallRepository
	Alerts   AlertRepository
	Attempts AttemptRepository
	Audit    AuditRepository
}
