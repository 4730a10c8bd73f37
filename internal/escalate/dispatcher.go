package escalate

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/callrelay/callrelay/internal/audit"
	"github.com/callrelay/callrelay/internal/classify"
	"github.com/callrelay/callrelay/internal/database"
	"github.com/callrelay/callrelay/internal/database/models"
	"github.com/callrelay/callrelay/internal/session"
)

// RetryPolicy is the per-tier delivery retry budget. Higher urgency gets
// more attempts with shorter backoff: the time budget is tighter but the
// message matters more.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultRetryPolicies returns the per-tier retry configuration:
// P1 → 3 attempts / 1s, P2 → 2 attempts / 5s, P3/P4 → single attempt.
func DefaultRetryPolicies() map[classify.Tier]RetryPolicy {
	return map[classify.Tier]RetryPolicy{
		classify.TierP1: {MaxAttempts: 3, Interval: time.Second},
		classify.TierP2: {MaxAttempts: 2, Interval: 5 * time.Second},
		classify.TierP3: {MaxAttempts: 1, Interval: 10 * time.Second},
		classify.TierP4: {MaxAttempts: 1, Interval: 10 * time.Second},
	}
}

// Auditor records outbound actions. Satisfied by audit.Recorder.
type Auditor interface {
	Record(entry audit.Entry)
}

// DeliveryResult is the per-recipient outcome of one escalation fan-out.
type DeliveryResult struct {
	Recipient Recipient
	Status    string // models.AttemptDelivered or models.AttemptFailed
	Attempts  int
	Err       error
}

// Dispatcher sends a plan's message to every recipient with per-tier
// retries. Recipients are independent: one recipient exhausting its retry
// budget never blocks or fails the others.
type Dispatcher struct {
	sender   *MultiSender
	attempts database.AttemptRepository
	auditor  Auditor
	logger   *slog.Logger
	policies map[classify.Tier]RetryPolicy

	// newBackOff builds the retry schedule for a policy. Tests replace it
	// to run retries without real timers.
	newBackOff func(RetryPolicy) backoff.BackOff
}

// NewDispatcher creates a Dispatcher. policies may be nil to use the
// defaults.
func NewDispatcher(sender *MultiSender, attempts database.AttemptRepository, auditor Auditor, logger *slog.Logger, policies map[classify.Tier]RetryPolicy) *Dispatcher {
	if policies == nil {
		policies = DefaultRetryPolicies()
	}
	return &Dispatcher{
		sender:   sender,
		attempts: attempts,
		auditor:  auditor,
		logger:   logger.With("component", "dispatcher"),
		policies: policies,
		newBackOff: func(p RetryPolicy) backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1))
		},
	}
}

// Dispatch fans the plan's message out to all recipients concurrently and
// waits for every delivery to reach a terminal state. Results are returned
// in plan order.
func (d *Dispatcher) Dispatch(ctx context.Context, plan Plan, s *session.Session) []DeliveryResult {
	msg := FormatMessage(plan, s)
	results := make([]DeliveryResult, len(plan.Recipients))

	var g errgroup.Group
	for i, recipient := range plan.Recipients {
		g.Go(func() error {
			results[i] = d.deliver(ctx, plan.Tier, recipient, msg)
			// Partial failure across a fan-out is expected; errors are
			// carried in the result, never across goroutines.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// DispatchAsync runs Dispatch in the background so webhook responses are
// not held hostage by retry backoff. The detached context outlives the
// HTTP request; a call ending does not cancel in-flight notifications.
func (d *Dispatcher) DispatchAsync(plan Plan, s *session.Session) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		d.Dispatch(ctx, plan, s)
	}()
}

// deliver drives one recipient's attempt record through the retry state
// machine until delivered or the budget is exhausted.
func (d *Dispatcher) deliver(ctx context.Context, tier classify.Tier, recipient Recipient, msg Message) DeliveryResult {
	policy, ok := d.policies[tier]
	if !ok {
		policy = RetryPolicy{MaxAttempts: 1}
	}

	attempt := &models.NotificationAttempt{
		ID:        uuid.New().String(),
		CallID:    msg.CallID,
		Tier:      msg.Tier,
		Recipient: recipient.Target,
		Role:      recipient.Role,
		Channel:   recipient.Channel,
		Status:    models.AttemptPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.attempts.Create(ctx, attempt); err != nil {
		// Keep going in memory; losing the row must not lose the send.
		d.logger.Error("failed to create notification attempt", "error", err, "call_id", msg.CallID)
		d.auditor.Record(audit.Entry{
			EventType: audit.TypePersistenceError,
			CallID:    msg.CallID,
			Actor:     "dispatcher",
			Outcome:   "create attempt: " + err.Error(),
		})
	}

	op := func() error {
		attempt.Attempts++
		now := time.Now().UTC()
		attempt.LastAttemptAt = &now

		providerID, err := d.sender.SendVia(ctx, recipient.Channel, recipient.Target, msg)
		if err != nil {
			attempt.LastError = err.Error()
			d.updateAttempt(ctx, attempt)
			return err
		}

		attempt.Status = models.AttemptDelivered
		attempt.ProviderMsgID = providerID
		attempt.LastError = ""
		d.updateAttempt(ctx, attempt)
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(d.newBackOff(policy), ctx))
	if err != nil {
		attempt.Status = models.AttemptFailed
		d.updateAttempt(ctx, attempt)
		d.logger.Warn("notification delivery failed",
			"call_id", msg.CallID,
			"recipient", recipient.Target,
			"channel", recipient.Channel,
			"attempts", attempt.Attempts,
			"error", err,
		)
		d.auditor.Record(audit.Entry{
			EventType: audit.TypeNotificationError,
			CallID:    msg.CallID,
			Actor:     "dispatcher",
			Outcome:   recipient.Role + "/" + recipient.Channel + " failed after retries: " + err.Error(),
		})
		return DeliveryResult{Recipient: recipient, Status: models.AttemptFailed, Attempts: attempt.Attempts, Err: err}
	}

	d.auditor.Record(audit.Entry{
		EventType: audit.TypeNotificationSent,
		CallID:    msg.CallID,
		Actor:     "dispatcher",
		Outcome:   recipient.Role + "/" + recipient.Channel + " delivered",
	})
	return DeliveryResult{Recipient: recipient, Status: models.AttemptDelivered, Attempts: attempt.Attempts}
}

// updateAttempt persists attempt progress, logging instead of failing when
// the store is down.
func (d *Dispatcher) updateAttempt(ctx context.Context, attempt *models.NotificationAttempt) {
	if err := d.attempts.Update(ctx, attempt); err != nil {
		d.logger.Error("failed to update notification attempt",
			"error", err,
			"attempt_id", attempt.ID,
			"call_id", attempt.CallID,
		)
	}
}
