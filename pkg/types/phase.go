package types

import "time"

// Phase identifies a point in an event's journey through the runtime.
// Every event eventually reaches at least one terminal phase.
type Phase string

const (
	PhaseSystemStart Phase = "system.start"
	PhaseSystemStop  Phase = "system.stop"
	PhaseSystemError Phase = "system.error"

	PhaseSourceEmit Phase = "source.emit"

	PhaseTransformStart     Phase = "transform.start"
	PhaseTransformPass      Phase = "transform.pass"
	PhaseTransformDrop      Phase = "transform.drop"
	PhaseTransformError     Phase = "transform.error"
	PhaseTransformErrorDrop Phase = "transform.error_drop"
	PhaseTransformErrorHalt Phase = "transform.error_halt"

	PhaseRouteMatch   Phase = "route.match"
	PhaseRouteNoMatch Phase = "route.no_match"

	PhaseDeliverAttempt Phase = "deliver.attempt"
	PhaseDeliverSuccess Phase = "deliver.success"
	PhaseDeliverFailure Phase = "deliver.failure"
	PhaseDeliverRetry   Phase = "deliver.retry"
)

// Record is the structured phase record broadcast to every configured logger
type Record struct {
	Phase      Phase     `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	Module     string    `json:"module,omitempty"`
	Source     string    `json:"source,omitempty"`
	Target     string    `json:"target,omitempty"`
	Route      string    `json:"route,omitempty"`
	Transform  string    `json:"transform,omitempty"`
	Result     string    `json:"result,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}
