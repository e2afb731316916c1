package delivery

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

// DefaultTimeout bounds one actor invocation when no override is configured
const DefaultTimeout = 60 * time.Second

// Deliverer invokes actors and records outcomes. There are no retries on
// this path; recovery after an error comes from bus replay on restart.
type Deliverer struct {
	module  string
	timeout time.Duration
	fanout  *phaselog.Fanout
	sink    func(error)
	logger  zerolog.Logger
}

// New creates a deliverer for one module. Delivery errors are reported
// through sink in addition to the phase log.
func New(module string, timeout time.Duration, fanout *phaselog.Fanout, sink func(error)) *Deliverer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if sink == nil {
		sink = func(error) {}
	}
	return &Deliverer{
		module:  module,
		timeout: timeout,
		fanout:  fanout,
		sink:    sink,
		logger:  log.WithComponent("delivery"),
	}
}

// Deliver invokes the actor with the event and the route's actor config.
// rejected is terminal; error is terminal for this attempt but replayable.
func (d *Deliverer) Deliver(ctx context.Context, event *types.Event, route types.Route, actor connector.Actor) types.DeliveryStatus {
	d.emit(types.PhaseDeliverAttempt, event, route, 0, "", nil)

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	res, err := d.invoke(ctx, event, route, actor)
	elapsed := timer.Duration()
	metrics.DeliveryDuration.Observe(elapsed.Seconds())

	status := types.DeliveryError
	switch {
	case err != nil:
		d.emit(types.PhaseDeliverFailure, event, route, elapsed, string(types.DeliveryError), err)
		d.sink(fmt.Errorf("delivery to %s failed for event %s: %w", route.Then.Actor, event.ID, err))
	case res == nil || res.Status == types.DeliveryError:
		msg := "actor reported error"
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		err = fmt.Errorf("%s", msg)
		d.emit(types.PhaseDeliverFailure, event, route, elapsed, string(types.DeliveryError), err)
		d.sink(fmt.Errorf("delivery to %s failed for event %s: %w", route.Then.Actor, event.ID, err))
	case res.Status == types.DeliveryRejected:
		status = types.DeliveryRejected
		d.emit(types.PhaseDeliverFailure, event, route, elapsed, string(types.DeliveryRejected), nil)
	default:
		status = types.DeliveryDelivered
		d.emit(types.PhaseDeliverSuccess, event, route, elapsed, string(types.DeliveryDelivered), nil)
	}

	metrics.DeliveriesTotal.WithLabelValues(d.module, route.Then.Actor, string(status)).Inc()
	return status
}

func (d *Deliverer) invoke(ctx context.Context, event *types.Event, route types.Route, actor connector.Actor) (res *connector.DeliveryResult, err error) {
	type result struct {
		res *connector.DeliveryResult
		err error
	}
	resCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- result{err: fmt.Errorf("actor panic: %v", r)}
			}
		}()
		r, e := actor.Deliver(ctx, event, route.Then.Config)
		resCh <- result{res: r, err: e}
	}()

	select {
	case r := <-resCh:
		return r.res, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("delivery timed out after %s", d.timeout)
		}
		return nil, ctx.Err()
	}
}

func (d *Deliverer) emit(phase types.Phase, event *types.Event, route types.Route, elapsed time.Duration, result string, err error) {
	rec := types.Record{
		Phase:      phase,
		EventID:    event.ID,
		TraceID:    event.TraceID,
		Module:     d.module,
		Source:     event.Source,
		Target:     route.Then.Actor,
		Route:      route.Name,
		Result:     result,
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	d.fanout.Emit(rec)
}
