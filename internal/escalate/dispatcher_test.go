package escalate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"github.com/callrelay/callrelay/internal/audit"
	"github.com/callrelay/callrelay/internal/classify"
	"github.com/callrelay/callrelay/internal/database/models"
	"github.com/callrelay/callrelay/internal/session"
)

// mockSender records calls and fails targets listed in failTargets.
type mockSender struct {
	mu          sync.Mutex
	sent        []string
	failTargets map[string]int // target -> number of failures before success
}

func (m *mockSender) Send(_ context.Context, target string, _ Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, target)
	if remaining, ok := m.failTargets[target]; ok && remaining > 0 {
		m.failTargets[target] = remaining - 1
		return "", errors.New("provider unavailable")
	}
	return "msg-" + target, nil
}

func (m *mockSender) sendCount(target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s == target {
			n++
		}
	}
	return n
}

// mockAttemptRepo is an in-memory AttemptRepository.
type mockAttemptRepo struct {
	mu        sync.Mutex
	created   []*models.NotificationAttempt
	updated   int
	createErr error
}

func (m *mockAttemptRepo) Create(_ context.Context, a *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *a
	m.created = append(m.created, &cp)
	return nil
}

func (m *mockAttemptRepo) Update(_ context.Context, a *models.NotificationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated++
	return nil
}

func (m *mockAttemptRepo) ListByCallID(_ context.Context, _ string) ([]models.NotificationAttempt, error) {
	return nil, nil
}

func (m *mockAttemptRepo) CountByStatus(_ context.Context) (map[string]int64, error) {
	return nil, nil
}

// mockAuditor collects audit entries.
type mockAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *mockAuditor) Record(e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func (m *mockAuditor) countType(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func newTestDispatcher(sender Sender, repo *mockAttemptRepo, auditor *mockAuditor) *Dispatcher {
	d := NewDispatcher(
		NewMultiSender(map[string]Sender{ChannelSMS: sender}),
		repo, auditor, slog.Default(), nil,
	)
	// No timers in tests: retries run back to back.
	d.newBackOff = func(p RetryPolicy) backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(p.MaxAttempts-1))
	}
	return d
}

func testSession() *session.Session {
	return &session.Session{
		CallID:      "call-1",
		PhoneNumber: "+15145551234",
		Fields:      map[string]string{"name": "Marie", "problem": "flood"},
	}
}

func smsPlan(tier classify.Tier, targets ...string) Plan {
	p := Plan{Tier: tier, TemplateKey: TemplateEmergency}
	for _, target := range targets {
		p.Recipients = append(p.Recipients, Recipient{Role: RoleOnCall, Channel: ChannelSMS, Target: target})
	}
	return p
}

func TestDispatchAllDelivered(t *testing.T) {
	sender := &mockSender{}
	repo := &mockAttemptRepo{}
	auditor := &mockAuditor{}
	d := newTestDispatcher(sender, repo, auditor)

	results := d.Dispatch(context.Background(), smsPlan(classify.TierP1, "a", "b", "c"), testSession())

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, res := range results {
		if res.Status != models.AttemptDelivered {
			t.Errorf("result %d status = %q", i, res.Status)
		}
		if res.Err != nil {
			t.Errorf("result %d err = %v", i, res.Err)
		}
	}
	if len(repo.created) != 3 {
		t.Errorf("created %d attempt rows, want 3", len(repo.created))
	}
	if got := auditor.countType(audit.TypeNotificationSent); got != 3 {
		t.Errorf("notification_sent audits = %d, want 3", got)
	}
}

func TestDispatchPartialFailureIsolated(t *testing.T) {
	// Recipient "b" always fails; "a" and "c" must still deliver.
	sender := &mockSender{failTargets: map[string]int{"b": 100}}
	repo := &mockAttemptRepo{}
	auditor := &mockAuditor{}
	d := newTestDispatcher(sender, repo, auditor)

	results := d.Dispatch(context.Background(), smsPlan(classify.TierP1, "a", "b", "c"), testSession())

	if results[0].Status != models.AttemptDelivered || results[2].Status != models.AttemptDelivered {
		t.Errorf("healthy recipients not delivered: %+v", results)
	}
	if results[1].Status != models.AttemptFailed {
		t.Errorf("failing recipient status = %q, want failed", results[1].Status)
	}
	if results[1].Err == nil {
		t.Error("failing recipient should carry its error")
	}
	if got := auditor.countType(audit.TypeNotificationError); got != 1 {
		t.Errorf("notification_failed audits = %d, want 1", got)
	}
}

func TestDispatchRetriesPerTierPolicy(t *testing.T) {
	// Fails twice, succeeds on the third try. P1 allows 3 attempts.
	sender := &mockSender{failTargets: map[string]int{"a": 2}}
	repo := &mockAttemptRepo{}
	auditor := &mockAuditor{}
	d := newTestDispatcher(sender, repo, auditor)

	results := d.Dispatch(context.Background(), smsPlan(classify.TierP1, "a"), testSession())

	if results[0].Status != models.AttemptDelivered {
		t.Fatalf("status = %q, want delivered after retries", results[0].Status)
	}
	if results[0].Attempts != 3 {
		t.Errorf("attempts = %d, want 3", results[0].Attempts)
	}
	if sender.sendCount("a") != 3 {
		t.Errorf("send count = %d, want 3", sender.sendCount("a"))
	}
}

func TestDispatchP3SingleAttempt(t *testing.T) {
	sender := &mockSender{failTargets: map[string]int{"a": 1}}
	repo := &mockAttemptRepo{}
	auditor := &mockAuditor{}
	d := newTestDispatcher(sender, repo, auditor)

	results := d.Dispatch(context.Background(), smsPlan(classify.TierP3, "a"), testSession())

	if results[0].Status != models.AttemptFailed {
		t.Errorf("status = %q, want failed (no retry budget)", results[0].Status)
	}
	if sender.sendCount("a") != 1 {
		t.Errorf("send count = %d, want 1", sender.sendCount("a"))
	}
}

func TestDispatchSurvivesAttemptStoreFailure(t *testing.T) {
	sender := &mockSender{}
	repo := &mockAttemptRepo{createErr: errors.New("disk full")}
	auditor := &mockAuditor{}
	d := newTestDispatcher(sender, repo, auditor)

	results := d.Dispatch(context.Background(), smsPlan(classify.TierP1, "a"), testSession())

	if results[0].Status != models.AttemptDelivered {
		t.Errorf("send must proceed despite persistence failure, status = %q", results[0].Status)
	}
	if got := auditor.countType(audit.TypePersistenceError); got != 1 {
		t.Errorf("persistence_failure audits = %d, want 1", got)
	}
}

func TestDispatchUnconfiguredChannelFails(t *testing.T) {
	sender := &mockSender{}
	repo := &mockAttemptRepo{}
	auditor := &mockAuditor{}
	d := newTestDispatcher(sender, repo, auditor)

	plan := Plan{Tier: classify.TierP1, Recipients: []Recipient{
		{Role: RoleOnCall, Channel: ChannelPush, Target: "token-1"},
	}}
	results := d.Dispatch(context.Background(), plan, testSession())

	if results[0].Status != models.AttemptFailed {
		t.Errorf("status = %q, want failed for missing channel", results[0].Status)
	}
}
