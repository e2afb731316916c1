package connector

import (
	"context"
	"net/http"

	"github.com/orgloop/orgloop/pkg/types"
)

// Source produces events, either by polling or by handling webhooks.
// Implementations must make Shutdown idempotent.
type Source interface {
	// Init sets up transport; fails if required options are missing
	Init(config map[string]any) error

	// Shutdown releases resources
	Shutdown() error
}

// Poller is a source polled on a schedule. Poll returns the events observed
// since the given checkpoint together with the next checkpoint. Events must
// be returned in emission order; a checkpoint handed back to Poll must yield
// at most the events strictly after the ones already returned.
type Poller interface {
	Source
	Poll(ctx context.Context, checkpoint string) ([]*types.Event, string, error)
}

// WebhookHandler is a source driven by inbound HTTP. The handler writes the
// response itself and returns the events to inject.
type WebhookHandler interface {
	Source
	HandleWebhook(w http.ResponseWriter, r *http.Request) ([]*types.Event, error)
}

// DeliveryResult is the outcome of one actor invocation
type DeliveryResult struct {
	Status   types.DeliveryStatus
	Response *types.Event
	Message  string
}

// Actor is a target capable of receiving an event
type Actor interface {
	Init(config map[string]any) error

	// Deliver invokes the actor with the event and per-route configuration.
	// A transport or actor-side failure is returned as an error; an explicit
	// refusal is a result with status rejected.
	Deliver(ctx context.Context, event *types.Event, routeConfig map[string]any) (*DeliveryResult, error)

	Shutdown() error
}

// TransformContext carries routing context into a transform invocation
type TransformContext struct {
	Source     string
	Target     string
	EventType  types.EventType
	RouteName  string
	ModuleName string
	PromptText string
}

// Transform inspects and optionally modifies or drops an event mid-pipeline.
// Execute returns the successor event, or (nil, nil) to drop the event.
type Transform interface {
	Init(config map[string]any) error
	Execute(ctx context.Context, event *types.Event, tc TransformContext) (*types.Event, error)
	Shutdown() error
}

// Logger receives structured phase records
type Logger interface {
	Init(config map[string]any) error
	Log(rec types.Record)
	Flush() error
	Shutdown() error
}

// Set bundles one module's resolved connectors, keyed by their ids
type Set struct {
	Sources    map[string]Source
	Actors     map[string]Actor
	Transforms map[string]Transform
	Loggers    []Logger
}
