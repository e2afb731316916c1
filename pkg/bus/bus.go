package bus

import (
	"github.com/orgloop/orgloop/pkg/types"
)

// Filter is a conjunction of optional predicates applied on the
// subscription side. Zero-value fields match anything.
type Filter struct {
	Module string
	Source string
	Type   types.EventType
}

// Matches reports whether an event published under the given module tag
// passes the filter
func (f Filter) Matches(module string, event *types.Event) bool {
	if f.Module != "" && f.Module != module {
		return false
	}
	if f.Source != "" && f.Source != event.Source {
		return false
	}
	if f.Type != "" && f.Type != event.Type {
		return false
	}
	return true
}

// Handler consumes an event delivered to a subscription. Handlers for a
// single subscription run serially in publish order.
type Handler func(module string, event *types.Event)

// PendingEvent is an event published but not yet acknowledged
type PendingEvent struct {
	Module string       `json:"module"`
	Event  *types.Event `json:"event"`
}

// Bus decouples event production from consumption within the process.
// Publish never blocks on slow subscribers; delivery from one publisher to
// one subscriber is FIFO. Acknowledgement removes the event from the
// pending set (and, for the durable variant, completes its journal entry).
type Bus interface {
	Publish(module string, event *types.Event) error
	Subscribe(filter Filter, handler Handler) *Subscription
	Ack(eventID string)
	Unacked() []*PendingEvent
	Close()
}
