package session

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/callrelay/callrelay/internal/classify"
	"github.com/callrelay/callrelay/internal/event"
)

// MinTranscriptLen is how many accumulated transcript runes must exist
// before a transcript event triggers classification. Classifying a two-word
// fragment produces noise.
const MinTranscriptLen = 24

// Result describes what applying one event did to the session.
type Result struct {
	// Session is a snapshot of the state after the event. Nil when the
	// event had no session effect (speech updates, unknown types,
	// platform errors).
	Session *Session
	// Created is true when this event created the session.
	Created bool
	// Duplicate is true when the event was already applied and skipped.
	Duplicate bool
	// Ended is true when this event froze the session.
	Ended bool
	// NeedsClassify is true when the caller should (re-)run
	// classification against the updated session.
	NeedsClassify bool
}

// Tracker applies inbound events to call sessions. It does not reorder
// events; it is idempotent under redelivery via per-session event-id
// tracking and the create-if-absent rule for call-started.
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With("component", "tracker"),
		now:    time.Now,
	}
}

// Apply looks up or creates the session for the event's call id and applies
// the event's effect.
func (t *Tracker) Apply(ctx context.Context, ev event.Event) (Result, error) {
	meta := ev.EventMeta()

	switch ev := ev.(type) {
	case event.CallStarted:
		return t.applyCallStarted(ctx, ev)
	case event.Transcript:
		return t.update(ctx, meta, func(s *Session, res *Result) {
			if ev.Text == "" {
				return
			}
			if s.Transcript != "" {
				s.Transcript += " "
			}
			s.Transcript += ev.Text
			if n := utf8.RuneCountInString(s.Transcript); n >= MinTranscriptLen && n > s.classifiedLen {
				s.classifiedLen = n
				res.NeedsClassify = true
			}
		})
	case event.FunctionCall:
		return t.update(ctx, meta, func(s *Session, res *Result) {
			if s.Fields == nil {
				s.Fields = make(map[string]string, len(ev.Parameters))
			}
			for k, v := range ev.Parameters {
				s.Fields[k] = v
			}
			res.NeedsClassify = true
		})
	case event.CallEnded:
		return t.update(ctx, meta, func(s *Session, res *Result) {
			if s.Status == StatusEnded {
				res.Duplicate = true
				return
			}
			s.Status = StatusEnded
			ended := meta.Timestamp
			if ended.IsZero() {
				ended = t.now()
			}
			s.EndedAt = &ended
			res.Ended = true
			// Final classification from whatever exists, if none ran.
			res.NeedsClassify = s.Tier == classify.TierNone
		})
	case event.SpeechUpdate, event.PlatformError, event.Unknown:
		// Accepted and audited upstream; no session mutation.
		return Result{}, nil
	default:
		return Result{}, nil
	}
}

// applyCallStarted creates the session if absent. A session created by an
// event that outran its call-started has no identity yet; the late
// call-started backfills it. Only a session that already holds identity
// treats a second call-started as a duplicate no-op.
func (t *Tracker) applyCallStarted(ctx context.Context, ev event.CallStarted) (Result, error) {
	var res Result
	snap, err := t.store.Update(ctx, ev.CallID, func(s *Session, created bool) error {
		res.Created = created
		if s.markSeen(ev.EventID) {
			res.Duplicate = true
			return nil
		}
		if !created && s.PhoneNumber != "" {
			res.Duplicate = true
			t.logger.Warn("duplicate call-started", "call_id", ev.CallID)
			return nil
		}
		s.PhoneNumber = ev.PhoneNumber
		s.AssistantID = ev.AssistantID
		if !ev.Timestamp.IsZero() {
			s.StartedAt = ev.Timestamp
		} else if s.StartedAt.IsZero() {
			s.StartedAt = t.now()
		}
		if !created {
			t.logger.Info("call-started arrived after earlier events", "call_id", ev.CallID)
			// The caller's number may satisfy rules no transcript did.
			res.NeedsClassify = s.PhoneNumber != ""
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Session = snap
	return res, nil
}

// update wraps the common lookup-or-create, duplicate-check, mutate flow
// for events after call-started. Events arriving before their call-started
// (slight non-causal reordering) still create the session.
func (t *Tracker) update(ctx context.Context, meta event.Meta, mutate func(*Session, *Result)) (Result, error) {
	var res Result
	snap, err := t.store.Update(ctx, meta.CallID, func(s *Session, created bool) error {
		res.Created = created
		if created {
			t.logger.Warn("event arrived before call-started", "call_id", meta.CallID)
			s.StartedAt = t.now()
		}
		if s.markSeen(meta.EventID) {
			res.Duplicate = true
			return nil
		}
		mutate(s, &res)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if res.Duplicate {
		res.NeedsClassify = false
		res.Ended = false
	}
	res.Session = snap
	return res, nil
}
