package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrMalformedPayload is returned when the body is not valid JSON or is
// missing the type or call.id fields. An unrecognized type string is NOT
// malformed; it decodes to Unknown.
var ErrMalformedPayload = errors.New("malformed payload")

// envelope mirrors the platform's webhook body. Extra JSON fields are
// ignored; only the known fields are typed.
type envelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp any    `json:"timestamp"`
	Call      struct {
		ID          string `json:"id"`
		PhoneNumber string `json:"phoneNumber"`
		AssistantID string `json:"assistantId"`
	} `json:"call"`
	Transcript struct {
		Role string `json:"role"`
		Text string `json:"text"`
	} `json:"transcript"`
	FunctionCall struct {
		Name       string         `json:"name"`
		Parameters map[string]any `json:"parameters"`
	} `json:"functionCall"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Parse decodes a verified, rate-limit-passed JSON body into a typed Event.
// Missing type, missing call.id, or unparseable JSON fail with
// ErrMalformedPayload.
func Parse(body []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformedPayload)
	}
	if env.Call.ID == "" {
		return nil, fmt.Errorf("%w: missing call.id", ErrMalformedPayload)
	}

	meta := Meta{
		EventID:   env.ID,
		CallID:    env.Call.ID,
		Timestamp: parseTimestamp(env.Timestamp),
	}

	switch Kind(env.Type) {
	case KindCallStarted:
		return CallStarted{Meta: meta, PhoneNumber: env.Call.PhoneNumber, AssistantID: env.Call.AssistantID}, nil
	case KindTranscript:
		return Transcript{Meta: meta, Role: env.Transcript.Role, Text: env.Transcript.Text}, nil
	case KindFunctionCall:
		return FunctionCall{Meta: meta, Name: env.FunctionCall.Name, Parameters: flatten(env.FunctionCall.Parameters)}, nil
	case KindCallEnded:
		return CallEnded{Meta: meta, Reason: env.Status}, nil
	case KindSpeechUpdate:
		return SpeechUpdate{Meta: meta, Status: env.Status}, nil
	case KindError:
		return PlatformError{Meta: meta, Message: env.Error}, nil
	default:
		return Unknown{Meta: meta, Type: env.Type}, nil
	}
}

// flatten converts loosely typed function-call parameters into strings.
// Nested objects are dropped; the session only merges scalar fields.
func flatten(params map[string]any) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		}
	}
	return out
}

// parseTimestamp accepts the two formats the platform has used: RFC 3339
// strings and millisecond epoch numbers. Anything else yields a zero time.
func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t
		}
	case float64:
		if ts > 0 {
			return time.UnixMilli(int64(ts)).UTC()
		}
	}
	return time.Time{}
}
