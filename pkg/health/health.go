package health

import (
	"sync"
	"time"

	"github.com/orgloop/orgloop/pkg/metrics"
	"github.com/orgloop/orgloop/pkg/types"
)

// Config contains the circuit breaker parameters
type Config struct {
	// FailureThreshold is the number of consecutive poll errors that opens
	// the circuit
	FailureThreshold int

	// RetryAfter is how long the circuit stays open before a single probe
	// poll is allowed
	RetryAfter time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RetryAfter:       2 * time.Minute,
	}
}

// Decision is the scheduler's gate verdict for one tick
type Decision int

const (
	// Allow means the circuit is closed; poll normally
	Allow Decision = iota

	// Skip means the circuit is open and the retry deadline has not elapsed;
	// the source's poll function must not be called
	Skip

	// Probe means the deadline has elapsed; a single probe poll may run
	Probe
)

// Set tracks health for every source of one module. Records exist for every
// declared source from instantiation onward. Updates come only from the
// scheduler goroutine owning the source's polls; readers take snapshots.
type Set struct {
	mu      sync.RWMutex
	cfg     Config
	module  string
	sources map[string]*types.SourceHealth
}

// NewSet creates health records for the given sources, all healthy
func NewSet(module string, cfg Config, sourceIDs []string) *Set {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultConfig().RetryAfter
	}

	s := &Set{
		cfg:     cfg,
		module:  module,
		sources: make(map[string]*types.SourceHealth, len(sourceIDs)),
	}
	for _, id := range sourceIDs {
		s.sources[id] = &types.SourceHealth{Status: types.SourceHealthy}
	}
	return s
}

// RecordSuccess resets the error counter and closes the circuit
func (s *Set) RecordSuccess(source string, eventsEmitted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sources[source]
	if !ok {
		return
	}
	now := time.Now().UTC()
	h.Status = types.SourceHealthy
	h.ConsecutiveErrors = 0
	h.LastSuccessfulPoll = &now
	h.LastError = ""
	h.CircuitOpen = false
	h.CircuitRetryDeadline = nil
	h.TotalEventsEmitted += int64(eventsEmitted)

	metrics.CircuitsOpen.WithLabelValues(s.module, source).Set(0)
}

// RecordFailure advances the failure state machine. Returns true when this
// failure opened (or re-armed) the circuit.
func (s *Set) RecordFailure(source string, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sources[source]
	if !ok {
		return false
	}
	h.ConsecutiveErrors++
	h.LastError = err.Error()

	if h.ConsecutiveErrors >= s.cfg.FailureThreshold {
		h.Status = types.SourceUnhealthy
		h.CircuitOpen = true
		deadline := time.Now().UTC().Add(s.cfg.RetryAfter)
		h.CircuitRetryDeadline = &deadline

		metrics.CircuitsOpen.WithLabelValues(s.module, source).Set(1)
		return true
	}

	h.Status = types.SourceDegraded
	return false
}

// Gate decides whether the scheduler may poll the source now
func (s *Set) Gate(source string, now time.Time) Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sources[source]
	if !ok || !h.CircuitOpen {
		return Allow
	}
	if h.CircuitRetryDeadline != nil && !now.Before(*h.CircuitRetryDeadline) {
		return Probe
	}
	return Skip
}

// Get returns a copy of one source's health record
func (s *Set) Get(source string) (types.SourceHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sources[source]
	if !ok {
		return types.SourceHealth{}, false
	}
	return *h, true
}

// Snapshot returns a consistent copy of every health record
func (s *Set) Snapshot() map[string]types.SourceHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.SourceHealth, len(s.sources))
	for id, h := range s.sources {
		out[id] = *h
	}
	return out
}
