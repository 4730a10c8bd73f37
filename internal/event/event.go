// Package event defines the typed call-lifecycle events delivered by the
// voice platform's webhook and the parser that decodes them. Parsing is
// pure: it never touches persistence or notification components.
package event

import "time"

// Kind identifies the variant of an inbound event.
type Kind string

const (
	KindCallStarted  Kind = "call-started"
	KindTranscript   Kind = "transcript"
	KindFunctionCall Kind = "function-call"
	KindCallEnded    Kind = "call-ended"
	KindSpeechUpdate Kind = "speech-update"
	KindError        Kind = "error"
	KindUnknown      Kind = "unknown"
)

// Meta carries the fields common to every event variant.
type Meta struct {
	// EventID is the platform's delivery id, used for at-least-once
	// deduplication. May be empty on older platform versions.
	EventID string
	// CallID is stable for the lifetime of one phone call.
	CallID string
	// Timestamp is when the platform emitted the event. Zero if the
	// payload carried none; callers substitute their own clock.
	Timestamp time.Time
}

// Event is the closed union of call-lifecycle events. The concrete types
// below are the only implementations; consumers switch exhaustively.
type Event interface {
	EventMeta() Meta
	Kind() Kind
	sealed()
}

// CallStarted announces a new call. The first CallStarted for a call id
// creates the session.
type CallStarted struct {
	Meta
	PhoneNumber string // caller, E.164
	AssistantID string
}

// Transcript carries a fragment of conversation text.
type Transcript struct {
	Meta
	Role string // "user" or "assistant"
	Text string
}

// FunctionCall is a structured extraction performed by the upstream AI,
// e.g. a "create client record" call with name/address/problem parameters.
type FunctionCall struct {
	Meta
	Name       string
	Parameters map[string]string
}

// CallEnded terminates the call's session.
type CallEnded struct {
	Meta
	Reason string
}

// SpeechUpdate reports speech activity. Tracked but has no session effect.
type SpeechUpdate struct {
	Meta
	Status string
}

// PlatformError reports an upstream failure for the call.
type PlatformError struct {
	Meta
	Message string
}

// Unknown is any event type this version does not handle. Accepted and
// audited but never acted on, so new platform event types do not break
// ingestion.
type Unknown struct {
	Meta
	Type string
}

func (m Meta) EventMeta() Meta { return m }

func (CallStarted) Kind() Kind   { return KindCallStarted }
func (Transcript) Kind() Kind    { return KindTranscript }
func (FunctionCall) Kind() Kind  { return KindFunctionCall }
func (CallEnded) Kind() Kind     { return KindCallEnded }
func (SpeechUpdate) Kind() Kind  { return KindSpeechUpdate }
func (PlatformError) Kind() Kind { return KindError }
func (Unknown) Kind() Kind       { return KindUnknown }

func (CallStarted) sealed()   {}
func (Transcript) sealed()    {}
func (FunctionCall) sealed()  {}
func (CallEnded) sealed()     {}
func (SpeechUpdate) sealed()  {}
func (PlatformError) sealed() {}
func (Unknown) sealed()       {}
