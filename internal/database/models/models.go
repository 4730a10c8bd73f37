// Package models defines the persisted row types for the escalation
// pipeline: calls, alerts, notification attempts, and the audit trail.
package models

import "time"

// Call is the durable record of one phone call handled by the AI agent.
// It mirrors the in-memory session at each state-affecting step and is the
// lead record for standard (P4) calls.
type Call struct {
	ID          int64
	CallID      string
	PhoneNumber string
	AssistantID string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string // "active" | "ended"
	Transcript  string
	ClientName  string
	Address     string
	Problem     string
	Tier        string // "P1".."P4", "" until classified
}

// Alert records one fired escalation: which call, what tier, who was in the
// recipient plan.
type Alert struct {
	ID         int64
	CallID     string
	Tier       string
	Recipients string // comma-separated "role:channel:target" entries
	CreatedAt  time.Time
}

// NotificationAttempt statuses.
const (
	AttemptPending   = "pending"
	AttemptDelivered = "delivered"
	AttemptFailed    = "failed"
)

// NotificationAttempt tracks delivery to one recipient of one escalation:
// created pending before the first send, updated on every retry, finalized
// on success or retry-budget exhaustion.
type NotificationAttempt struct {
	ID            string // uuid
	CallID        string
	Tier          string
	Recipient     string // target address (phone, token, email)
	Role          string
	Channel       string // "sms" | "push" | "email"
	Attempts      int
	Status        string
	ProviderMsgID string
	LastError     string
	LastAttemptAt *time.Time
	CreatedAt     time.Time
}

// AuditEntry is one immutable row of the audit trail. Never updated or
// deleted by the core.
type AuditEntry struct {
	ID        string // uuid
	EventType string
	CallID    string
	Actor     string // component name
	Outcome   string
	CreatedAt time.Time
}
