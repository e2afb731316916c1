package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/metrics"
	"github.com/orgloop/orgloop/pkg/phaselog"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
)

// Step is one resolved transform invocation within a route's pipeline
type Step struct {
	Name      string
	Transform connector.Transform
	Timeout   time.Duration
	OnError   types.ErrorPolicy
}

// Pipeline applies an ordered list of transforms to an event
type Pipeline struct {
	module string
	route  string
	steps  []Step
	fanout *phaselog.Fanout
	logger zerolog.Logger
}

// New creates a pipeline for one route
func New(module, route string, steps []Step, fanout *phaselog.Fanout) *Pipeline {
	return &Pipeline{
		module: module,
		route:  route,
		steps:  steps,
		fanout: fanout,
		logger: log.WithComponent("pipeline"),
	}
}

// Run applies every step in order. It returns the successor event to
// deliver, (nil, nil) when a step dropped the event, or (nil, err) when a
// step errored under the halt policy. Each invocation emits transform.start
// followed by exactly one of transform.{pass,drop,error,error_drop,error_halt}.
func (p *Pipeline) Run(ctx context.Context, event *types.Event, tc connector.TransformContext) (*types.Event, error) {
	current := event
	for _, step := range p.steps {
		p.emit(types.PhaseTransformStart, step.Name, current, 0, nil)

		timer := metrics.NewTimer()
		next, err := p.invoke(ctx, step, current, tc)
		elapsed := timer.Duration()
		metrics.TransformDuration.Observe(elapsed.Seconds())

		if err != nil {
			switch step.OnError {
			case types.ErrorPolicyDrop:
				metrics.TransformsTotal.WithLabelValues(step.Name, "error_drop").Inc()
				p.emit(types.PhaseTransformErrorDrop, step.Name, current, elapsed, err)
				return nil, nil
			case types.ErrorPolicyHalt:
				metrics.TransformsTotal.WithLabelValues(step.Name, "error_halt").Inc()
				p.emit(types.PhaseTransformErrorHalt, step.Name, current, elapsed, err)
				return nil, fmt.Errorf("transform %s halted pipeline for route %s: %w", step.Name, p.route, err)
			default: // pass
				metrics.TransformsTotal.WithLabelValues(step.Name, "error").Inc()
				p.emit(types.PhaseTransformError, step.Name, current, elapsed, err)
				continue
			}
		}

		if next == nil {
			metrics.TransformsTotal.WithLabelValues(step.Name, "drop").Inc()
			p.emit(types.PhaseTransformDrop, step.Name, current, elapsed, nil)
			return nil, nil
		}

		metrics.TransformsTotal.WithLabelValues(step.Name, "pass").Inc()
		p.emit(types.PhaseTransformPass, step.Name, next, elapsed, nil)
		current = next
	}
	return current, nil
}

// invoke runs one transform with a hard timeout. The transform receives a
// clone so the published event stays immutable even if the implementation
// mutates its input.
func (p *Pipeline) invoke(ctx context.Context, step Step, event *types.Event, tc connector.TransformContext) (*types.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type result struct {
		event *types.Event
		err   error
	}
	resCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: fmt.Errorf("transform panic: %v", r)}
			}
		}()
		next, err := step.Transform.Execute(ctx, event.Clone(), tc)
		resCh <- result{event: next, err: err}
	}()

	select {
	case res := <-resCh:
		return res.event, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("transform %s timed out after %s", step.Name, step.Timeout)
		}
		return nil, ctx.Err()
	}
}

func (p *Pipeline) emit(phase types.Phase, transform string, event *types.Event, elapsed time.Duration, err error) {
	rec := types.Record{
		Phase:      phase,
		EventID:    event.ID,
		TraceID:    event.TraceID,
		Module:     p.module,
		Source:     event.Source,
		Route:      p.route,
		Transform:  transform,
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	p.fanout.Emit(rec)
}
