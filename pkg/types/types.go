package types

import (
	"time"
)

// ErrorPolicy controls how a transform error affects the event and pipeline
type ErrorPolicy string

const (
	// ErrorPolicyPass continues the pipeline with the event unchanged
	ErrorPolicyPass ErrorPolicy = "pass"

	// ErrorPolicyDrop drops the event and halts the pipeline
	ErrorPolicyDrop ErrorPolicy = "drop"

	// ErrorPolicyHalt aborts the pipeline and surfaces a fatal transform error
	ErrorPolicyHalt ErrorPolicy = "halt"
)

// TransformKind identifies how a transform is executed
type TransformKind string

const (
	TransformKindPackage TransformKind = "package" // in-process implementation
	TransformKindScript  TransformKind = "script"  // external process via stdin/stdout
)

// DefaultTransformTimeout is applied when a transform definition omits timeout_ms
const DefaultTransformTimeout = 30 * time.Second

// Route is a declarative rule from trigger to target
type Route struct {
	Name       string         `yaml:"name" json:"name"`
	When       RouteTrigger   `yaml:"when" json:"when"`
	Transforms []TransformRef `yaml:"transforms,omitempty" json:"transforms,omitempty"`
	Then       RouteTarget    `yaml:"then" json:"then"`
	With       RouteExtras    `yaml:"with,omitempty" json:"with,omitempty"`
}

// RouteTrigger describes which events a route matches
type RouteTrigger struct {
	Source string         `yaml:"source" json:"source"`
	Events []EventType    `yaml:"events" json:"events"`
	Filter map[string]any `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// TransformRef references a transform definition by name, with an optional
// route-level error policy that overrides the definition's policy
type TransformRef struct {
	Ref     string      `yaml:"ref" json:"ref"`
	OnError ErrorPolicy `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// RouteTarget names the actor to invoke on a match
type RouteTarget struct {
	Actor  string         `yaml:"actor" json:"actor"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// RouteExtras carries pre-resolved data passed alongside the event
type RouteExtras struct {
	PromptText string `yaml:"prompt_text,omitempty" json:"prompt_text,omitempty"`
}

// TransformDef declares a named transform within a module
type TransformDef struct {
	Name      string         `yaml:"name" json:"name"`
	Kind      TransformKind  `yaml:"kind" json:"kind"`
	Config    map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	TimeoutMS int            `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	OnError   ErrorPolicy    `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// Timeout returns the transform timeout, applying the default when unset
func (d TransformDef) Timeout() time.Duration {
	if d.TimeoutMS <= 0 {
		return DefaultTransformTimeout
	}
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// Policy resolves the effective error policy for a route-level reference:
// route-level on_error wins, then the definition's, then pass
func (d TransformDef) Policy(ref TransformRef) ErrorPolicy {
	if ref.OnError != "" {
		return ref.OnError
	}
	if d.OnError != "" {
		return d.OnError
	}
	return ErrorPolicyPass
}

// SourceConfig declares a source within a module
type SourceConfig struct {
	ID       string         `yaml:"id" json:"id"`
	Kind     string         `yaml:"kind" json:"kind"`
	Interval string         `yaml:"interval,omitempty" json:"interval,omitempty"`
	Schedule string         `yaml:"schedule,omitempty" json:"schedule,omitempty"` // cron expression
	Config   map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// ActorConfig declares an actor within a module
type ActorConfig struct {
	ID     string         `yaml:"id" json:"id"`
	Kind   string         `yaml:"kind" json:"kind"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// LoggerConfig declares a phase-record logger within a module
type LoggerConfig struct {
	Kind   string         `yaml:"kind" json:"kind"`
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// ModuleDefaults holds the module's parsed defaults section. The runtime
// does not read it: error policy resolution and source cadence use only
// route, transform definition and source settings.
type ModuleDefaults struct {
	OnError      ErrorPolicy `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	PollInterval string      `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
}

// ModuleConfig is a named bundle of sources, actors, routes, transforms and
// loggers managed as one workload. Name is the module's singleton identity.
type ModuleConfig struct {
	Name       string         `yaml:"name" json:"name"`
	Sources    []SourceConfig `yaml:"sources,omitempty" json:"sources,omitempty"`
	Actors     []ActorConfig  `yaml:"actors,omitempty" json:"actors,omitempty"`
	Routes     []Route        `yaml:"routes,omitempty" json:"routes,omitempty"`
	Transforms []TransformDef `yaml:"transforms,omitempty" json:"transforms,omitempty"`
	Loggers    []LoggerConfig `yaml:"loggers,omitempty" json:"loggers,omitempty"`
	Defaults   ModuleDefaults `yaml:"defaults,omitempty" json:"defaults,omitempty"`
}

// SourceStatus represents the health of a polled source
type SourceStatus string

const (
	SourceHealthy   SourceStatus = "healthy"
	SourceDegraded  SourceStatus = "degraded"
	SourceUnhealthy SourceStatus = "unhealthy"
)

// SourceHealth is the per-source mutable health record
type SourceHealth struct {
	Status               SourceStatus `json:"status"`
	ConsecutiveErrors    int          `json:"consecutive_errors"`
	LastSuccessfulPoll   *time.Time   `json:"last_successful_poll,omitempty"`
	LastError            string       `json:"last_error,omitempty"`
	TotalEventsEmitted   int64        `json:"total_events_emitted"`
	CircuitOpen          bool         `json:"circuit_open"`
	CircuitRetryDeadline *time.Time   `json:"circuit_retry_deadline,omitempty"`
}

// ModuleState represents a module's lifecycle state
type ModuleState string

const (
	ModuleLoading   ModuleState = "loading"
	ModuleActive    ModuleState = "active"
	ModuleUnloading ModuleState = "unloading"
	ModuleRemoved   ModuleState = "removed"
)

// ModuleStatus is the inspectable snapshot of one module
type ModuleStatus struct {
	Name     string                  `json:"name"`
	State    ModuleState             `json:"state"`
	LoadedAt time.Time               `json:"loaded_at"`
	Sources  map[string]SourceHealth `json:"sources,omitempty"`
	Actors   []string                `json:"actors,omitempty"`
	Routes   []string                `json:"routes,omitempty"`
}

// ModuleSummary is the abbreviated listing entry for a module
type ModuleSummary struct {
	Name     string      `json:"name"`
	State    ModuleState `json:"state"`
	LoadedAt time.Time   `json:"loaded_at"`
}

// RuntimeStatus is the runtime-wide snapshot served by the control API
type RuntimeStatus struct {
	PID      int            `json:"pid"`
	UptimeMS int64          `json:"uptime_ms"`
	HTTPPort int            `json:"http_port,omitempty"`
	Modules  []ModuleStatus `json:"modules"`
}

// DeliveryStatus classifies the outcome of one actor invocation
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered" // actor accepted synchronously
	DeliveryRejected  DeliveryStatus = "rejected"  // actor explicitly refused, non-retriable
	DeliveryError     DeliveryStatus = "error"     // transport or actor-side failure
)
