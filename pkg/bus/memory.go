package bus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/metrics"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
)

// MemoryBus is the in-process, non-durable bus
type MemoryBus struct {
	mu      sync.Mutex
	pending map[string]*PendingEvent
	subs    map[string]*Subscription
	closed  bool
	sink    func(error)
	logger  zerolog.Logger
}

// NewMemoryBus creates an in-memory bus. Errors raised by subscriber
// handlers are reported through sink; a nil sink discards them.
func NewMemoryBus(sink func(error)) *MemoryBus {
	if sink == nil {
		sink = func(error) {}
	}
	return &MemoryBus{
		pending: make(map[string]*PendingEvent),
		subs:    make(map[string]*Subscription),
		sink:    sink,
		logger:  log.WithComponent("bus"),
	}
}

// Publish records the event as pending and hands it to every matching
// subscription. The caller is never blocked by a slow subscriber.
func (b *MemoryBus) Publish(module string, event *types.Event) error {
	return b.publish(module, event)
}

func (b *MemoryBus) publish(module string, event *types.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus closed")
	}
	p := &PendingEvent{Module: module, Event: event}
	b.pending[event.ID] = p

	// Enqueue under the lock so a single publisher's order is preserved
	// per subscriber.
	for _, sub := range b.subs {
		if sub.filter.Matches(module, event) {
			sub.enqueue(p)
		}
	}
	b.mu.Unlock()

	metrics.EventsPublished.WithLabelValues(module).Inc()
	metrics.EventsPending.Inc()
	return nil
}

// Subscribe registers a handler with a filter and returns the subscription
// handle. The handler runs on a dedicated goroutine per subscription.
func (b *MemoryBus) Subscribe(filter Filter, handler Handler) *Subscription {
	sub := &Subscription{
		id:      uuid.New().String(),
		filter:  filter,
		handler: handler,
		done:    make(chan struct{}),
		bus:     b,
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go sub.drain(b.sink)
	return sub
}

// Ack removes the event from the pending set
func (b *MemoryBus) Ack(eventID string) {
	b.mu.Lock()
	_, ok := b.pending[eventID]
	delete(b.pending, eventID)
	b.mu.Unlock()

	if ok {
		metrics.EventsAcked.Inc()
		metrics.EventsPending.Dec()
	}
}

// Unacked returns a snapshot of events published but not yet acked
func (b *MemoryBus) Unacked() []*PendingEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*PendingEvent, 0, len(b.pending))
	for _, p := range b.pending {
		out = append(out, p)
	}
	return out
}

// Close stops all subscriptions and rejects further publishes
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
		<-sub.done
	}
}

func (b *MemoryBus) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is a handle to one bus subscription
type Subscription struct {
	id      string
	filter  Filter
	handler Handler

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*PendingEvent
	closed bool
	done   chan struct{}
	bus    *MemoryBus
}

// ID returns the subscription's unique identifier
func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe prevents further deliveries, including queued ones
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Subscription) enqueue(p *PendingEvent) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, p)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

// drain delivers queued events one at a time, in arrival order. A panicking
// handler does not abort the loop and does not ack the event; the panic is
// surfaced through the error sink.
func (s *Subscription) drain(sink func(error)) {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		p := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.invoke(p, sink)
	}
}

func (s *Subscription) invoke(p *PendingEvent, sink func(error)) {
	defer func() {
		if r := recover(); r != nil {
			sink(fmt.Errorf("bus handler panic for event %s: %v", p.Event.ID, r))
		}
	}()
	s.handler(p.Module, p.Event)
}
