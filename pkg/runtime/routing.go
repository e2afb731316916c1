package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orgloop/orgloop/pkg/bus"
	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/delivery"
	"github.com/orgloop/orgloop/pkg/metrics"
	"github.com/orgloop/orgloop/pkg/module"
	"github.com/orgloop/orgloop/pkg/pipeline"
	"github.com/orgloop/orgloop/pkg/router"
	"github.com/orgloop/orgloop/pkg/scheduler"
	"github.com/orgloop/orgloop/pkg/state"
	"github.com/orgloop/orgloop/pkg/types"
)

// attachment is the routing wiring for one active module: its bus
// subscription and one serialized worker per route
type attachment struct {
	sub     *bus.Subscription
	workers map[string]*routeWorker
}

// LoadModule builds, initializes, registers and activates a module. The
// factory is retained so reload can re-instantiate connectors. Failure
// before registration leaves no side effects; failure after rolls back.
func (r *Runtime) LoadModule(cfg types.ModuleConfig, factory SetFactory) (types.ModuleStatus, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.loadLocked(cfg, factory)
}

func (r *Runtime) loadLocked(cfg types.ModuleConfig, factory SetFactory) (types.ModuleStatus, error) {
	if cfg.Name == "" {
		return types.ModuleStatus{}, fmt.Errorf("module config requires a name")
	}

	// Validate schedules before any connector is touched.
	schedules := make(map[string]scheduler.Schedule)
	for _, src := range cfg.Sources {
		if src.Interval == "" && src.Schedule == "" {
			continue // webhook-driven source
		}
		sched, err := scheduler.ParseSchedule(src.Interval, src.Schedule)
		if err != nil {
			return types.ModuleStatus{}, fmt.Errorf("source %s: %w", src.ID, err)
		}
		schedules[src.ID] = sched
	}

	set, err := factory(cfg)
	if err != nil {
		return types.ModuleStatus{}, fmt.Errorf("failed to resolve connectors for %s: %w", cfg.Name, err)
	}

	inst := module.New(cfg, set, r.cfg.Health)
	if err := inst.Initialize(); err != nil {
		inst.Shutdown() // release anything that did initialize
		return types.ModuleStatus{}, fmt.Errorf("module %s init failed: %w", cfg.Name, err)
	}

	if err := r.registry.Register(inst); err != nil {
		inst.Shutdown()
		return types.ModuleStatus{}, err
	}

	// Past registration: any failure must roll back.
	rollback := func() {
		r.registry.Remove(cfg.Name)
		inst.Shutdown()
	}

	r.fanout.Attach(cfg.Name, set.Loggers)
	attach := r.attachRouting(inst, set)

	for _, src := range cfg.Sources {
		conn := set.Sources[src.ID]
		if poller, ok := conn.(connector.Poller); ok {
			sched, ok := schedules[src.ID]
			if !ok {
				r.detachRouting(cfg.Name, attach)
				r.fanout.Detach(cfg.Name)
				rollback()
				return types.ModuleStatus{}, fmt.Errorf("poll source %s requires an interval or schedule", src.ID)
			}
			if err := r.sched.AddSource(cfg.Name, src.ID, sched, poller, inst.HealthSet()); err != nil {
				r.sched.RemoveModule(cfg.Name)
				r.detachRouting(cfg.Name, attach)
				r.fanout.Detach(cfg.Name)
				rollback()
				return types.ModuleStatus{}, err
			}
		}
		if wh, ok := conn.(connector.WebhookHandler); ok && r.httpSrv != nil {
			r.httpSrv.RegisterWebhook(src.ID, cfg.Name, wh)
		}
	}

	inst.Activate()
	r.loaded[cfg.Name] = &loadedModule{inst: inst, factory: factory, attach: attach}
	r.saveSnapshot(inst)

	r.logger.Info().Str("module", cfg.Name).Int("routes", len(cfg.Routes)).Msg("Module loaded")
	r.moduleGauge()
	return inst.Status(), nil
}

// UnloadModule deactivates, detaches and shuts down a module, waiting for
// in-flight work to finish within the drain timeout
func (r *Runtime) UnloadModule(name string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.unloadLocked(name)
}

func (r *Runtime) unloadLocked(name string) error {
	lm, ok := r.loaded[name]
	if !ok {
		return fmt.Errorf("%w: %s", module.ErrModuleNotFound, name)
	}

	lm.inst.Deactivate()

	// Reverse order of load: stop polling, drop webhook routes, stop
	// routing, then tear the instance down.
	r.sched.RemoveModule(name)
	if r.httpSrv != nil {
		r.httpSrv.UnregisterModule(name)
	}
	r.detachRouting(name, lm.attach)
	r.fanout.Detach(name)

	if err := r.registry.Remove(name); err != nil {
		return err
	}
	delete(r.loaded, name)

	lm.inst.Shutdown()
	r.saveSnapshot(lm.inst)

	r.logger.Info().Str("module", name).Msg("Module unloaded")
	r.moduleGauge()
	return nil
}

// ReloadModule unloads and reloads a module with its previous configuration.
// Atomic from the caller's viewpoint: ListModules cannot observe the module
// as absent mid-reload.
func (r *Runtime) ReloadModule(name string) (types.ModuleStatus, error) {
	return r.ReloadModuleWithConfig(name, nil)
}

// ReloadModuleWithConfig reloads with a replacement configuration when
// newCfg is non-nil. The name must not change.
func (r *Runtime) ReloadModuleWithConfig(name string, newCfg *types.ModuleConfig) (types.ModuleStatus, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	lm, ok := r.loaded[name]
	if !ok {
		return types.ModuleStatus{}, fmt.Errorf("%w: %s", module.ErrModuleNotFound, name)
	}

	cfg := lm.inst.Config()
	if newCfg != nil {
		if newCfg.Name != name {
			return types.ModuleStatus{}, fmt.Errorf("reload cannot rename module %s to %s", name, newCfg.Name)
		}
		cfg = *newCfg
	}
	factory := lm.factory

	if err := r.unloadLocked(name); err != nil {
		return types.ModuleStatus{}, err
	}
	return r.loadLocked(cfg, factory)
}

func (r *Runtime) saveSnapshot(inst *module.Instance) {
	snap := state.ModuleSnapshot{
		Name:     inst.Name(),
		State:    inst.State(),
		SavedAt:  time.Now().UTC(),
		LoadedAt: inst.LoadedAt(),
	}
	if err := r.paths.SaveModuleSnapshot(snap); err != nil {
		r.logger.Warn().Err(err).Str("module", inst.Name()).Msg("Failed to persist module snapshot")
	}
}

func (r *Runtime) moduleGauge() {
	// lifecycle lock held
	metrics.ModulesLoaded.Set(float64(len(r.loaded)))
}

// attachRouting subscribes the module's routing handler to the bus and
// starts one serialized worker per route
func (r *Runtime) attachRouting(inst *module.Instance, set connector.Set) *attachment {
	name := inst.Name()
	deliverer := delivery.New(name, r.cfg.DeliveryTimeout, r.fanout, r.reportError)

	workers := make(map[string]*routeWorker, len(inst.Routes()))
	for _, route := range inst.Routes() {
		steps := r.buildSteps(inst, route)
		actor, _ := inst.Actor(route.Then.Actor)
		w := &routeWorker{
			module:    name,
			route:     route,
			pipe:      pipeline.New(name, route.Name, steps, r.fanout),
			actor:     actor,
			deliverer: deliverer,
			runtime:   r,
			done:      make(chan struct{}),
		}
		w.cond = sync.NewCond(&w.mu)
		workers[route.Name] = w
		go w.run()
	}

	routes := inst.Routes()
	sub := r.eventBus.Subscribe(bus.Filter{Module: name}, func(moduleName string, event *types.Event) {
		r.dispatch(name, routes, workers, event)
	})

	return &attachment{sub: sub, workers: workers}
}

func (r *Runtime) buildSteps(inst *module.Instance, route types.Route) []pipeline.Step {
	defs := make(map[string]types.TransformDef, len(inst.Config().Transforms))
	for _, def := range inst.Config().Transforms {
		defs[def.Name] = def
	}

	steps := make([]pipeline.Step, 0, len(route.Transforms))
	for _, ref := range route.Transforms {
		def := defs[ref.Ref]
		t, _ := inst.Transform(ref.Ref)
		steps = append(steps, pipeline.Step{
			Name:      ref.Ref,
			Transform: t,
			Timeout:   def.Timeout(),
			OnError:   def.Policy(ref),
		})
	}
	return steps
}

// dispatch fans one event out to its matching route workers. The event is
// acked once every matching route finished with it; a no-match acks
// immediately after the route.no_match phase.
func (r *Runtime) dispatch(moduleName string, routes []types.Route, workers map[string]*routeWorker, event *types.Event) {
	matches := router.Match(routes, event)
	if len(matches) == 0 {
		r.fanout.Emit(types.Record{
			Phase:   types.PhaseRouteNoMatch,
			EventID: event.ID,
			TraceID: event.TraceID,
			Module:  moduleName,
			Source:  event.Source,
		})
		r.eventBus.Ack(event.ID)
		return
	}

	remaining := int32(len(matches))
	release := func() {
		if atomic.AddInt32(&remaining, -1) == 0 {
			r.eventBus.Ack(event.ID)
		}
	}

	for _, route := range matches {
		r.fanout.Emit(types.Record{
			Phase:   types.PhaseRouteMatch,
			EventID: event.ID,
			TraceID: event.TraceID,
			Module:  moduleName,
			Source:  event.Source,
			Route:   route.Name,
		})

		w := workers[route.Name]
		if w == nil || !w.enqueue(dispatchItem{event: event, release: release}) {
			// Worker already closed (unload racing the dispatch); count the
			// route as finished so the ack refcount still resolves.
			release()
		}
	}
}

func (r *Runtime) detachRouting(name string, attach *attachment) {
	attach.sub.Unsubscribe()

	deadline := time.Now().Add(r.cfg.DrainTimeout)
	for _, w := range attach.workers {
		w.close()
	}
	for _, w := range attach.workers {
		select {
		case <-w.done:
		case <-time.After(time.Until(deadline)):
			r.logger.Warn().Str("module", name).Str("route", w.route.Name).
				Msg("Route worker did not drain before timeout")
		}
	}
}

// dispatchItem is one event queued for a route worker
type dispatchItem struct {
	event   *types.Event
	release func()
}

// routeWorker serializes one route's pipeline: events are processed one at
// a time in arrival order
type routeWorker struct {
	module    string
	route     types.Route
	pipe      *pipeline.Pipeline
	actor     connector.Actor
	deliverer *delivery.Deliverer
	runtime   *Runtime

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []dispatchItem
	closed bool
	done   chan struct{}
}

func (w *routeWorker) enqueue(item dispatchItem) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.queue = append(w.queue, item)
	w.cond.Signal()
	return true
}

func (w *routeWorker) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Signal()
	w.mu.Unlock()
}

func (w *routeWorker) run() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.closed {
			w.mu.Unlock()
			return
		}
		item := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.process(item)
	}
}

func (w *routeWorker) process(item dispatchItem) {
	defer item.release()

	tc := connector.TransformContext{
		Source:     item.event.Source,
		Target:     w.route.Then.Actor,
		EventType:  item.event.Type,
		RouteName:  w.route.Name,
		ModuleName: w.module,
		PromptText: w.route.With.PromptText,
	}

	ctx := w.runtime.rootCtx
	out, err := w.pipe.Run(ctx, item.event, tc)
	if err != nil {
		// halt policy: fatal transform error, no delivery
		w.runtime.reportError(err)
		return
	}
	if out == nil {
		return // dropped
	}

	w.deliverer.Deliver(ctx, out, w.route, w.actor)
}
