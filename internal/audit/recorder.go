// Package audit appends an immutable trail of every inbound event and every
// outbound action. Writes are fire-and-forget from the caller's perspective
// but are never silently dropped: a failed or overflowed write lands in the
// process log so investigators can reconstruct timelines during storage
// outages.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callrelay/callrelay/internal/database"
	"github.com/callrelay/callrelay/internal/database/models"
)

// Event types recorded by the pipeline.
const (
	TypeEventAccepted     = "event_accepted"
	TypeEventDuplicate    = "event_duplicate"
	TypeEventUnknown      = "event_unknown"
	TypeInvalidSignature  = "invalid_signature"
	TypeRateLimited       = "rate_limited"
	TypeMalformedPayload  = "malformed_payload"
	TypeClassification    = "classification"
	TypeEscalationFired   = "escalation_fired"
	TypeNotificationSent  = "notification_sent"
	TypeNotificationError = "notification_failed"
	TypePersistenceError  = "persistence_failure"
)

// Entry is one audit record before persistence.
type Entry struct {
	EventType string
	CallID    string
	Actor     string // component name
	Outcome   string
	Timestamp time.Time
}

// Recorder buffers entries on a channel and writes them from a background
// goroutine so audit writes never block the webhook response path.
type Recorder struct {
	repo    database.AuditRepository
	logger  *slog.Logger
	entries chan Entry
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a Recorder and starts its writer goroutine.
// bufferSize bounds how many entries may be in flight; beyond that, entries
// go straight to the fallback log instead of blocking the caller.
func NewRecorder(repo database.AuditRepository, logger *slog.Logger, bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &Recorder{
		repo:    repo,
		logger:  logger.With("component", "audit"),
		entries: make(chan Entry, bufferSize),
		done:    make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// Record queues one entry for appending. It never blocks: if the buffer is
// full, or the recorder has already been closed, the entry is written to
// the process log only. Background dispatch goroutines may still report
// outcomes during shutdown, so recording after Close must stay safe.
func (r *Recorder) Record(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.fallback(entry, "recorder closed")
		return
	}
	select {
	case r.entries <- entry:
	default:
		r.fallback(entry, "audit buffer full")
	}
}

// Close drains queued entries and stops the writer goroutine. Safe to call
// more than once; later Records fall back to the process log.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.entries)
	<-r.done
}

// writeLoop appends queued entries until the channel closes.
func (r *Recorder) writeLoop() {
	defer close(r.done)
	for entry := range r.entries {
		row := &models.AuditEntry{
			ID:        uuid.New().String(),
			EventType: entry.EventType,
			CallID:    entry.CallID,
			Actor:     entry.Actor,
			Outcome:   entry.Outcome,
			CreatedAt: entry.Timestamp,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.repo.Append(ctx, row)
		cancel()

		if err != nil {
			r.fallback(entry, err.Error())
		}
	}
}

// fallback logs an entry that could not be persisted, with every field, so
// the trail survives in the process log.
func (r *Recorder) fallback(entry Entry, reason string) {
	r.logger.Error("audit write fell back to process log",
		"reason", reason,
		"event_type", entry.EventType,
		"call_id", entry.CallID,
		"actor", entry.Actor,
		"outcome", entry.Outcome,
		"timestamp", entry.Timestamp,
	)
}
