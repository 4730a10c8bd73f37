// Package webhook is the HTTP intake for voice-platform call events. Every
// request runs the same gauntlet: signature verification on the raw bytes,
// per-source rate limiting, payload parsing, session tracking, priority
// classification, and escalation routing, with an audit record at each
// rejection or acceptance point.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/callrelay/callrelay/internal/audit"
	"github.com/callrelay/callrelay/internal/classify"
	"github.com/callrelay/callrelay/internal/database"
	"github.com/callrelay/callrelay/internal/database/models"
	"github.com/callrelay/callrelay/internal/escalate"
	"github.com/callrelay/callrelay/internal/event"
	"github.com/callrelay/callrelay/internal/session"
)

// maxBodyBytes caps the webhook request body. Transcript fragments are
// small; anything near this size is not a legitimate event.
const maxBodyBytes = 1 << 20

// Auditor records pipeline decisions. Satisfied by audit.Recorder.
type Auditor interface {
	Record(entry audit.Entry)
}

// Server wires the intake pipeline behind a chi router.
type Server struct {
	verifier   *Verifier
	limiter    *RateLimiter
	tracker    *session.Tracker
	store      session.Store
	classifier *classify.Classifier
	router     *escalate.Router
	dispatcher *escalate.Dispatcher
	auditor    Auditor
	gateway    *database.Gateway
	metrics    http.Handler
	logger     *slog.Logger
}

// ServerDeps carries the collaborators a Server needs.
type ServerDeps struct {
	Verifier   *Verifier
	Limiter    *RateLimiter
	Tracker    *session.Tracker
	Store      session.Store
	Classifier *classify.Classifier
	Router     *escalate.Router
	Dispatcher *escalate.Dispatcher
	Auditor    Auditor
	Gateway    *database.Gateway
	// Metrics, when non-nil, is mounted at GET /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewServer creates the webhook server.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		verifier:   deps.Verifier,
		limiter:    deps.Limiter,
		tracker:    deps.Tracker,
		store:      deps.Store,
		classifier: deps.Classifier,
		router:     deps.Router,
		dispatcher: deps.Dispatcher,
		auditor:    deps.Auditor,
		gateway:    deps.Gateway,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With("component", "webhook"),
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(StructuredLogger)

	r.Post("/webhook", s.handleWebhook)
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// response is the webhook reply envelope.
type response struct {
	Success   bool   `json:"success"`
	CallID    string `json:"callId,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleWebhook runs one inbound event through the full pipeline.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, response{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, response{Error: "unreadable body"})
		return
	}

	// Authentication happens on the exact raw bytes, before any parsing.
	if err := s.verifier.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
		s.auditor.Record(audit.Entry{
			EventType: audit.TypeInvalidSignature,
			Actor:     "webhook",
			Outcome:   "rejected from " + extractIP(r),
		})
		writeJSON(w, http.StatusUnauthorized, response{Error: "invalid signature"})
		return
	}

	source := extractIP(r)
	if allowed, retryAfter := s.limiter.Allow(source); !allowed {
		s.auditor.Record(audit.Entry{
			EventType: audit.TypeRateLimited,
			Actor:     "webhook",
			Outcome:   "source " + source,
		})
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, response{Error: "rate limit exceeded"})
		return
	}

	ev, err := event.Parse(body)
	if err != nil {
		s.auditor.Record(audit.Entry{
			EventType: audit.TypeMalformedPayload,
			Actor:     "webhook",
			Outcome:   err.Error(),
		})
		writeJSON(w, http.StatusBadRequest, response{Error: "malformed payload"})
		return
	}

	meta := ev.EventMeta()

	if unk, ok := ev.(event.Unknown); ok {
		s.auditor.Record(audit.Entry{
			EventType: audit.TypeEventUnknown,
			CallID:    meta.CallID,
			Actor:     "webhook",
			Outcome:   "type " + unk.Type,
		})
		writeJSON(w, http.StatusOK, response{Success: true, CallID: meta.CallID, Ignored: true})
		return
	}

	res, err := s.tracker.Apply(ctx, ev)
	if err != nil {
		s.logger.Error("failed to apply event", "error", err, "call_id", meta.CallID)
		writeJSON(w, http.StatusInternalServerError, response{Error: "internal error"})
		return
	}

	if res.Duplicate {
		s.auditor.Record(audit.Entry{
			EventType: audit.TypeEventDuplicate,
			CallID:    meta.CallID,
			Actor:     "webhook",
			Outcome:   "event " + meta.EventID,
		})
		writeJSON(w, http.StatusOK, response{Success: true, CallID: meta.CallID, Duplicate: true})
		return
	}

	s.auditor.Record(audit.Entry{
		EventType: audit.TypeEventAccepted,
		CallID:    meta.CallID,
		Actor:     "webhook",
		Outcome:   string(ev.Kind()),
	})

	if res.Session != nil {
		s.persistCall(ctx, res.Session)
	}

	if res.NeedsClassify {
		s.classifyAndRoute(ctx, meta.CallID)
	}

	if res.Ended {
		s.closeOut(ctx, meta.CallID)
	}

	writeJSON(w, http.StatusOK, response{Success: true, CallID: meta.CallID})
}

// classifyAndRoute re-runs classification for the call and fires an
// escalation when the tier upgraded past anything already sent. The whole
// decision runs inside one store update so concurrent events for the same
// call cannot double-fire or downgrade.
func (s *Server) classifyAndRoute(ctx context.Context, callID string) {
	var (
		tier  classify.Tier
		plan  escalate.Plan
		fire  bool
		moved bool
	)
	snap, err := s.store.Update(ctx, callID, func(sess *session.Session, _ bool) error {
		tier = s.classifier.Classify(sess.Transcript, sess.Fields, sess.PhoneNumber)
		moved = sess.UpgradeTier(tier)
		plan, fire = s.router.Decide(sess, sess.Tier)
		if fire {
			sess.MarkEscalated(sess.Tier)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("classification update failed", "error", err, "call_id", callID)
		return
	}

	s.auditor.Record(audit.Entry{
		EventType: audit.TypeClassification,
		CallID:    callID,
		Actor:     "classifier",
		Outcome:   tier.String(),
	})

	if moved {
		s.persistCall(ctx, snap)
	}
	if fire {
		s.fire(ctx, plan, snap)
	}
}

// closeOut handles the end of a call: sessions that never escalated still
// surface to the lead as a new-lead notification, exactly once.
func (s *Server) closeOut(ctx context.Context, callID string) {
	var (
		plan escalate.Plan
		fire bool
	)
	snap, err := s.store.Update(ctx, callID, func(sess *session.Session, _ bool) error {
		plan, fire = s.router.EndOfCall(sess)
		if fire {
			t := sess.Tier
			if !t.Valid() {
				t = classify.TierP4
			}
			sess.MarkEscalated(t)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("end-of-call update failed", "error", err, "call_id", callID)
		return
	}

	s.persistCall(ctx, snap)
	if fire {
		s.fire(ctx, plan, snap)
	}
}

// fire records the alert and hands the plan to the dispatcher. Delivery runs
// in the background; the webhook response never waits on retry backoff.
func (s *Server) fire(ctx context.Context, plan escalate.Plan, snap *session.Session) {
	if plan.Empty() {
		s.logger.Warn("escalation plan has no recipients", "call_id", snap.CallID, "tier", plan.Tier.String())
		return
	}

	alert := &models.Alert{
		CallID:     snap.CallID,
		Tier:       plan.Tier.String(),
		Recipients: plan.RecipientSummary(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.gateway.Alerts.Create(ctx, alert); err != nil {
		s.logger.Error("failed to persist alert", "error", err, "call_id", snap.CallID)
		s.auditor.Record(audit.Entry{
			EventType: audit.TypePersistenceError,
			CallID:    snap.CallID,
			Actor:     "webhook",
			Outcome:   "create alert: " + err.Error(),
		})
	}

	s.auditor.Record(audit.Entry{
		EventType: audit.TypeEscalationFired,
		CallID:    snap.CallID,
		Actor:     "router",
		Outcome:   plan.Tier.String() + " to " + plan.RecipientSummary(),
	})

	s.dispatcher.DispatchAsync(plan, snap)
}

// persistCall mirrors the session snapshot into the durable call record.
// Persistence failure is logged and audited but never fails the request;
// the in-memory session remains authoritative for the live pipeline.
func (s *Server) persistCall(ctx context.Context, snap *session.Session) {
	call := &models.Call{
		CallID:      snap.CallID,
		PhoneNumber: snap.PhoneNumber,
		AssistantID: snap.AssistantID,
		StartedAt:   snap.StartedAt,
		EndedAt:     snap.EndedAt,
		Status:      snap.Status,
		Transcript:  snap.Transcript,
		ClientName:  snap.Field("name"),
		Address:     snap.Field("address"),
		Problem:     snap.Field("problem"),
		Tier:        snap.Tier.String(),
	}
	if err := s.gateway.Calls.Upsert(ctx, call); err != nil {
		s.logger.Error("failed to persist call", "error", err, "call_id", snap.CallID)
		s.auditor.Record(audit.Entry{
			EventType: audit.TypePersistenceError,
			CallID:    snap.CallID,
			Actor:     "webhook",
			Outcome:   "upsert call: " + err.Error(),
		})
	}
}

// handleHealthz reports liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
