package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/callrelay/callrelay/internal/database/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenRunsMigrationsIdempotently(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.Close()

	// Reopening must not re-apply migrations.
	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	db.Close()
}

func TestCallUpsert(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	call := &models.Call{
		CallID:      "call-1",
		PhoneNumber: "+15145551234",
		AssistantID: "asst-1",
		StartedAt:   started,
		Status:      "active",
		Transcript:  "hello",
	}
	if err := repo.Upsert(ctx, call); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Second upsert with more state keeps one row.
	ended := started.Add(3 * time.Minute)
	call.Status = "ended"
	call.EndedAt = &ended
	call.Transcript = "hello there is a flood"
	call.ClientName = "Marie"
	call.Tier = "P1"
	if err := repo.Upsert(ctx, call); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetByCallID(ctx, "call-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("call not found")
	}
	if got.Status != "ended" || got.Tier != "P1" || got.ClientName != "Marie" {
		t.Errorf("got %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, ended)
	}

	recent, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("upsert created %d rows, want 1", len(recent))
	}
}

func TestCallGetMissingReturnsNil(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)

	got, err := repo.GetByCallID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestCallCountByTier(t *testing.T) {
	db := openTestDB(t)
	repo := NewCallRepository(db)
	ctx := context.Background()

	for i, tier := range []string{"P1", "P1", "P4", ""} {
		call := &models.Call{
			CallID:    "call-" + string(rune('a'+i)),
			StartedAt: time.Now().UTC(),
			Status:    "ended",
			Tier:      tier,
		}
		if err := repo.Upsert(ctx, call); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := repo.CountByTier(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["P1"] != 2 || counts["P4"] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if _, ok := counts[""]; ok {
		t.Error("unclassified calls must not appear in tier counts")
	}
}

func TestAlertRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewAlertRepository(db)
	ctx := context.Background()

	alert := &models.Alert{
		CallID:     "call-1",
		Tier:       "P1",
		Recipients: "lead:sms:+15145550001,manager:sms:+15145550002",
		CreatedAt:  time.Now().UTC(),
	}
	if err := repo.Create(ctx, alert); err != nil {
		t.Fatalf("create: %v", err)
	}
	if alert.ID == 0 {
		t.Error("alert id not populated")
	}

	alerts, err := repo.ListByCallID(ctx, "call-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Recipients != alert.Recipients {
		t.Errorf("alerts = %+v", alerts)
	}

	counts, err := repo.CountByTier(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["P1"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAttemptLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	attempt := &models.NotificationAttempt{
		ID:        uuid.New().String(),
		CallID:    "call-1",
		Tier:      "P1",
		Recipient: "+15145550001",
		Role:      "lead",
		Channel:   "sms",
		Status:    models.AttemptPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.Create(ctx, attempt); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now().UTC()
	attempt.Attempts = 2
	attempt.Status = models.AttemptDelivered
	attempt.ProviderMsgID = "SM123"
	attempt.LastAttemptAt = &now
	if err := repo.Update(ctx, attempt); err != nil {
		t.Fatalf("update: %v", err)
	}

	attempts, err := repo.ListByCallID(ctx, "call-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("got %d attempts", len(attempts))
	}
	got := attempts[0]
	if got.Status != models.AttemptDelivered || got.Attempts != 2 || got.ProviderMsgID != "SM123" {
		t.Errorf("got %+v", got)
	}

	counts, err := repo.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.AttemptDelivered] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestAuditAppendOnly(t *testing.T) {
	db := openTestDB(t)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	for _, eventType := range []string{"event_accepted", "event_accepted", "classification"} {
		entry := &models.AuditEntry{
			ID:        uuid.New().String(),
			EventType: eventType,
			CallID:    "call-1",
			Actor:     "webhook",
			Outcome:   "ok",
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := repo.ListByCallID(ctx, "call-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}

	counts, err := repo.CountByType(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["event_accepted"] != 2 || counts["classification"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestGatewayBundle(t *testing.T) {
	db := openTestDB(t)
	g := NewGateway(db)

	if g.Calls == nil || g.Alerts == nil || g.Attempts == nil || g.Audit == nil {
		t.Fatal("gateway has nil repositories")
	}
}
