package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orgloop/orgloop/pkg/bus"
	"github.com/orgloop/orgloop/pkg/checkpoint"
	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/health"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/metrics"
	"github.com/orgloop/orgloop/pkg/phaselog"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
)

// Scheduler polls each registered source at its configured cadence. Every
// source owns one goroutine, so concurrent polls of the same source cannot
// happen; distinct sources poll concurrently.
type Scheduler struct {
	bus         bus.Bus
	checkpoints *checkpoint.Store
	fanout      *phaselog.Fanout
	sink        func(error)
	logger      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]map[string]*job // module -> source id -> job
}

// New creates a scheduler wired to the shared bus, checkpoint store and
// phase-record fan-out
func New(b bus.Bus, checkpoints *checkpoint.Store, fanout *phaselog.Fanout, sink func(error)) *Scheduler {
	if sink == nil {
		sink = func(error) {}
	}
	return &Scheduler{
		bus:         b,
		checkpoints: checkpoints,
		fanout:      fanout,
		sink:        sink,
		logger:      log.WithComponent("scheduler"),
		jobs:        make(map[string]map[string]*job),
	}
}

// AddSource registers a poll-based source and starts its loop. The first
// poll fires immediately; subsequent polls follow the schedule with jitter.
// The loop stops when RemoveModule (or Stop) is called.
func (s *Scheduler) AddSource(module, sourceID string, schedule Schedule, poller connector.Poller, hs *health.Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[module][sourceID]; ok {
		return fmt.Errorf("source %s already scheduled for module %s", sourceID, module)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		module:   module,
		sourceID: sourceID,
		schedule: schedule,
		poller:   poller,
		health:   hs,
		sched:    s,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   log.WithSource(module, sourceID),
	}

	if s.jobs[module] == nil {
		s.jobs[module] = make(map[string]*job)
	}
	s.jobs[module][sourceID] = j

	go j.run(ctx)
	return nil
}

// RemoveModule cancels every poll loop belonging to the module and waits for
// in-flight polls to observe the cancellation
func (s *Scheduler) RemoveModule(module string) {
	s.mu.Lock()
	jobs := s.jobs[module]
	delete(s.jobs, module)
	s.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
	for _, j := range jobs {
		<-j.done
	}
}

// Stop cancels all poll loops across modules and waits for them
func (s *Scheduler) Stop() {
	s.mu.Lock()
	var all []*job
	for _, sources := range s.jobs {
		for _, j := range sources {
			all = append(all, j)
		}
	}
	s.jobs = make(map[string]map[string]*job)
	s.mu.Unlock()

	for _, j := range all {
		j.cancel()
	}
	for _, j := range all {
		<-j.done
	}
}

// job is one source's poll loop
type job struct {
	module   string
	sourceID string
	schedule Schedule
	poller   connector.Poller
	health   *health.Set
	sched    *Scheduler
	cancel   context.CancelFunc
	done     chan struct{}
	logger   zerolog.Logger
}

func (j *job) run(ctx context.Context) {
	defer close(j.done)

	// Fire-on-start, then at cadence.
	j.tick(ctx)

	for {
		now := time.Now()
		next := j.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		started := time.Now()
		j.tick(ctx)
		if elapsed := time.Since(started); elapsed > j.schedule.Period(started) {
			// The poll overran its cadence; the ticks that would have fired
			// meanwhile are skipped, never run concurrently.
			j.logger.Warn().Dur("elapsed", elapsed).Msg("Poll overran its interval, skipping missed ticks")
			metrics.PollsSkipped.WithLabelValues(j.module, j.sourceID, "overrun").Inc()
		}
	}
}

// tick performs one scheduled poll attempt, honoring the circuit breaker
func (j *job) tick(ctx context.Context) {
	switch j.health.Gate(j.sourceID, time.Now()) {
	case health.Skip:
		j.logger.Debug().Msg("Circuit open, skipping poll")
		metrics.PollsSkipped.WithLabelValues(j.module, j.sourceID, "circuit_open").Inc()
		return
	case health.Probe:
		j.logger.Info().Msg("Circuit retry deadline reached, probing source")
	}

	j.poll(ctx)
}

func (j *job) poll(ctx context.Context) {
	cp, _, err := j.sched.checkpoints.Get(j.module, j.sourceID)
	if err != nil {
		j.sched.sink(fmt.Errorf("checkpoint read failed for %s/%s: %w", j.module, j.sourceID, err))
		return
	}

	timer := metrics.NewTimer()
	events, next, err := j.poller.Poll(ctx, cp)
	metrics.PollDuration.Observe(timer.Duration().Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return // unload or shutdown in progress
		}
		metrics.PollsTotal.WithLabelValues(j.module, j.sourceID, "error").Inc()
		opened := j.health.RecordFailure(j.sourceID, err)
		if opened {
			j.logger.Error().Err(err).Msg("Failure threshold reached, circuit opened")
		} else {
			j.logger.Error().Err(err).Msg("Poll failed")
		}
		j.sched.sink(fmt.Errorf("source %s/%s poll failed: %w", j.module, j.sourceID, err))
		return
	}

	// Publish in emission order. Any publish failure aborts checkpoint
	// persistence so the next poll resumes from the prior token.
	for _, event := range events {
		event.Normalize()
		if event.Source == "" {
			event.Source = j.sourceID
		}
		event.Timestamp = event.Timestamp.UTC()

		j.sched.fanout.Emit(types.Record{
			Phase:   types.PhaseSourceEmit,
			EventID: event.ID,
			TraceID: event.TraceID,
			Module:  j.module,
			Source:  event.Source,
		})

		if err := j.sched.bus.Publish(j.module, event); err != nil {
			metrics.PollsTotal.WithLabelValues(j.module, j.sourceID, "publish_error").Inc()
			j.sched.sink(fmt.Errorf("bus publish failed for %s/%s: %w", j.module, j.sourceID, err))
			return
		}
	}

	if err := j.sched.checkpoints.Put(j.module, j.sourceID, next); err != nil {
		j.sched.sink(fmt.Errorf("checkpoint write failed for %s/%s: %w", j.module, j.sourceID, err))
		return
	}

	metrics.PollsTotal.WithLabelValues(j.module, j.sourceID, "success").Inc()
	j.health.RecordSuccess(j.sourceID, len(events))

	if len(events) > 0 {
		j.logger.Debug().Int("events", len(events)).Msg("Poll completed")
	}
}
