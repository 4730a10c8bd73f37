// Package session owns per-call state across the webhook event sequence:
// one CallSession per call id, updated in order, idempotent under
// at-least-once redelivery.
package session

import (
	"time"

	"github.com/callrelay/callrelay/internal/classify"
)

// Lifecycle status values for a CallSession.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// maxSeenEvents bounds the per-session duplicate-detection set. The platform
// redelivers at-least-once but not unboundedly; old ids are evicted FIFO.
const maxSeenEvents = 512

// Session is the accumulated state for one phone call. All mutation happens
// under the store's per-call lock; callers outside the store only ever see
// snapshot copies.
type Session struct {
	CallID      string
	PhoneNumber string
	AssistantID string
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string

	// Transcript is the accumulated conversation text.
	Transcript string
	// Fields holds structured data extracted by the upstream AI
	// (name, address, problem, ...), merged from function-call events.
	Fields map[string]string

	// Tier is the current priority. Upgrade-only: once set it may only
	// move to a more severe value.
	Tier classify.Tier
	// LastEscalated is the most severe tier an escalation has fired for.
	LastEscalated classify.Tier

	// classifiedLen is the transcript rune count at the last classification
	// trigger, used for the minimum-growth threshold.
	classifiedLen int

	seen      map[string]struct{}
	seenOrder []string
}

// UpgradeTier stores t if it is strictly more severe than the current tier
// and reports whether the stored tier changed. Less severe results are
// computed upstream but discarded here, which is what keeps an already
// notified P1/P2 session from being downgraded.
func (s *Session) UpgradeTier(t classify.Tier) bool {
	if !t.MoreSevere(s.Tier) {
		return false
	}
	s.Tier = t
	return true
}

// MarkEscalated records that an escalation fired for tier t.
func (s *Session) MarkEscalated(t classify.Tier) {
	if t.MoreSevere(s.LastEscalated) {
		s.LastEscalated = t
	}
}

// Field returns an extracted field value, or "" if absent.
func (s *Session) Field(key string) string {
	return s.Fields[key]
}

// markSeen records an event id for duplicate detection and reports whether
// it was already present. Empty ids are never duplicates.
func (s *Session) markSeen(eventID string) bool {
	if eventID == "" {
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, dup := s.seen[eventID]; dup {
		return true
	}
	s.seen[eventID] = struct{}{}
	s.seenOrder = append(s.seenOrder, eventID)
	if len(s.seenOrder) > maxSeenEvents {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
	return false
}

// snapshot returns a copy safe to use outside the store's lock.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.seen = nil
	cp.seenOrder = nil
	if s.Fields != nil {
		cp.Fields = make(map[string]string, len(s.Fields))
		for k, v := range s.Fields {
			cp.Fields[k] = v
		}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
