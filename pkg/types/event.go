package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an event. The set is extensible; these are the
// well-known types emitted by the built-in sources.
type EventType string

const (
	EventResourceChanged EventType = "resource.changed"
	EventActorStopped    EventType = "actor.stopped"
	EventMessageReceived EventType = "message.received"
)

// Event is the canonical unit of work. Immutable after creation.
type Event struct {
	ID         string            `json:"id"`
	TraceID    string            `json:"trace_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source"`
	Type       EventType         `json:"type"`
	Provenance map[string]string `json:"provenance,omitempty"`
	Payload    map[string]any    `json:"payload,omitempty"`
}

// NewEventID returns a fresh evt_-prefixed identifier
func NewEventID() string {
	return "evt_" + uuid.New().String()
}

// NewTraceID returns a fresh trc_-prefixed identifier
func NewTraceID() string {
	return "trc_" + uuid.New().String()
}

// NewEvent creates an event with fresh identifiers and a UTC timestamp
func NewEvent(source string, eventType EventType) *Event {
	return &Event{
		ID:        NewEventID(),
		TraceID:   NewTraceID(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Type:      eventType,
	}
}

// Normalize fills in any identifiers or timestamps a source left unset.
// Injected or webhook-supplied events may arrive partially formed.
func (e *Event) Normalize() {
	if e.ID == "" {
		e.ID = NewEventID()
	}
	if e.TraceID == "" {
		e.TraceID = NewTraceID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
}

// Lookup resolves a dotted field path against the event. Supported roots are
// id, trace_id, timestamp, source, type, provenance and payload; deeper
// segments traverse nested mappings. Missing segments yield (nil, false),
// never an error.
func (e *Event) Lookup(path string) (any, bool) {
	segs := strings.Split(path, ".")
	var cur any
	switch segs[0] {
	case "id":
		cur = e.ID
	case "trace_id":
		cur = e.TraceID
	case "timestamp":
		cur = e.Timestamp
	case "source":
		cur = e.Source
	case "type":
		cur = string(e.Type)
	case "provenance":
		cur = e.Provenance
	case "payload":
		cur = e.Payload
	default:
		return nil, false
	}

	for _, seg := range segs[1:] {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy. Transforms operate on a clone so the published
// event stays immutable.
func (e *Event) Clone() *Event {
	out := *e
	if e.Provenance != nil {
		out.Provenance = make(map[string]string, len(e.Provenance))
		for k, v := range e.Provenance {
			out.Provenance[k] = v
		}
	}
	if e.Payload != nil {
		out.Payload = cloneValue(e.Payload).(map[string]any)
	}
	return &out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(tv))
		for k, vv := range tv {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(tv))
		for i, vv := range tv {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return tv
	}
}
