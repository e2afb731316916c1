package runtime

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/orgloop/orgloop/pkg/bus"
	"github.com/orgloop/orgloop/pkg/checkpoint"
	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/health"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/module"
	"github.com/orgloop/orgloop/pkg/phaselog"
	"github.com/orgloop/orgloop/pkg/scheduler"
	"github.com/orgloop/orgloop/pkg/server"
	"github.com/orgloop/orgloop/pkg/state"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
)

// SetFactory builds a fresh connector set for a module config. Reload uses
// it to re-instantiate connectors after the old instance shut down.
type SetFactory func(cfg types.ModuleConfig) (connector.Set, error)

// Config holds runtime-wide settings
type Config struct {
	DataDir         string
	HTTPAddr        string // empty disables the HTTP listener
	DurableBus      bool
	WALRetention    time.Duration
	Health          health.Config
	DeliveryTimeout time.Duration
	DrainTimeout    time.Duration

	// Resolver builds connector sets for configs arriving over the control
	// API. Optional; loads through Go callers may pass their own factory.
	Resolver SetFactory
}

// Runtime is the composition root: it owns the bus, scheduler, logger
// fan-out, HTTP server and module registry, and exposes the control surface.
type Runtime struct {
	cfg         Config
	paths       state.Paths
	eventBus    bus.Bus
	durable     *bus.DurableBus
	checkpoints *checkpoint.Store
	fanout      *phaselog.Fanout
	sched       *scheduler.Scheduler
	registry    *module.Registry
	httpSrv     *server.Server
	logger      zerolog.Logger

	errCh      chan error
	startedAt  time.Time
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// lifecycle guards load/unload/reload/list so a reload is atomic from
	// any caller's viewpoint
	lifecycle sync.Mutex
	loaded    map[string]*loadedModule

	stopOnce     sync.Once
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	compactStop  chan struct{}
}

type loadedModule struct {
	inst    *module.Instance
	factory SetFactory
	attach  *attachment
}

// New creates a runtime. Call Start before loading modules.
func New(cfg Config) (*Runtime, error) {
	if cfg.WALRetention <= 0 {
		cfg.WALRetention = 24 * time.Hour
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}

	paths, err := state.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:        cfg,
		paths:      paths,
		fanout:     phaselog.NewFanout(),
		registry:   module.NewRegistry(),
		logger:     log.WithComponent("runtime"),
		errCh:      make(chan error, 128),
		loaded:     make(map[string]*loadedModule),
		shutdownCh: make(chan struct{}),
	}
	r.rootCtx, r.rootCancel = context.WithCancel(context.Background())

	r.checkpoints, err = checkpoint.NewStore(paths.DataDir)
	if err != nil {
		return nil, err
	}

	if cfg.DurableBus {
		durable, err := bus.NewDurableBus(paths.DataDir, r.reportError)
		if err != nil {
			r.checkpoints.Close()
			return nil, err
		}
		r.durable = durable
		r.eventBus = durable
	} else {
		r.eventBus = bus.NewMemoryBus(r.reportError)
	}

	r.sched = scheduler.New(r.eventBus, r.checkpoints, r.fanout, r.reportError)
	return r, nil
}

// Start brings up shared infrastructure and binds the HTTP listener when
// configured. After Start the runtime accepts module loads.
func (r *Runtime) Start() error {
	r.startedAt = time.Now().UTC()

	if r.cfg.HTTPAddr != "" {
		r.httpSrv = server.New(r.cfg.HTTPAddr, r, r.fanout, r.injectWebhookEvents)
		if err := r.httpSrv.Start(); err != nil {
			return err
		}
		if err := r.paths.WritePIDFile(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to write pid file")
		}
		if err := r.paths.WritePortFile(r.httpSrv.Port()); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to write port file")
		}
	}

	if r.durable != nil {
		r.compactStop = make(chan struct{})
		go r.compactLoop()
	}

	// Snapshots still marked active belong to a run that did not shut down
	// cleanly; their checkpoints are intact, so a reload resumes them.
	if snaps, err := r.paths.ListModuleSnapshots(); err == nil {
		for _, snap := range snaps {
			if snap.State == types.ModuleActive {
				r.logger.Info().Str("module", snap.Name).Time("saved_at", snap.SavedAt).
					Msg("Module was active when the previous run ended; load it again to resume")
			}
		}
	}

	r.fanout.Emit(types.Record{Phase: types.PhaseSystemStart})
	r.logger.Info().Str("data_dir", r.paths.DataDir).Msg("Runtime started")
	return nil
}

// ReplayWAL re-publishes unacked journal entries. Call after the initial
// module loads so their subscriptions exist.
func (r *Runtime) ReplayWAL() (int, error) {
	if r.durable == nil {
		return 0, nil
	}
	return r.durable.Replay()
}

func (r *Runtime) compactLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.durable.Compact(r.cfg.WALRetention); err != nil {
				r.logger.Error().Err(err).Msg("Journal compaction failed")
			}
		case <-r.compactStop:
			return
		}
	}
}

// Stop unloads all modules, drains in-flight deliveries with a bounded
// grace period, and tears down shared infrastructure. Each unload holds the
// lifecycle lock, so modules are unloaded one at a time.
func (r *Runtime) Stop() {
	r.stopOnce.Do(r.stop)
}

func (r *Runtime) stop() {
	r.fanout.Emit(types.Record{Phase: types.PhaseSystemStop})

	r.lifecycle.Lock()
	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	r.lifecycle.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := r.UnloadModule(name); err != nil {
				r.logger.Error().Err(err).Str("module", name).Msg("Unload during stop failed")
			}
		}(name)
	}
	wg.Wait()
	r.rootCancel()

	if r.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
		r.httpSrv.Stop(ctx)
		cancel()
	}

	if r.compactStop != nil {
		close(r.compactStop)
	}

	r.sched.Stop()
	r.eventBus.Close()
	r.fanout.Flush()

	if err := r.checkpoints.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to close checkpoint database")
	}
	r.paths.Cleanup()
	r.logger.Info().Msg("Runtime stopped")
}

// Errors exposes the runtime error channel: background failures from polls,
// deliveries, transforms under halt, and bus handlers surface here.
func (r *Runtime) Errors() <-chan error {
	return r.errCh
}

func (r *Runtime) reportError(err error) {
	r.fanout.Emit(types.Record{Phase: types.PhaseSystemError, Error: err.Error()})
	r.logger.Error().Err(err).Msg("Runtime error")
	select {
	case r.errCh <- err:
	default: // channel full, the log retains the record
	}
}

// InitiateShutdown asks the process to stop without blocking the caller.
// The daemon loop watches ShutdownRequested.
func (r *Runtime) InitiateShutdown() {
	r.shutdownOnce.Do(func() { close(r.shutdownCh) })
}

// ShutdownRequested is closed once a graceful stop was requested
func (r *Runtime) ShutdownRequested() <-chan struct{} {
	return r.shutdownCh
}

// Status returns the runtime-wide snapshot
func (r *Runtime) Status() types.RuntimeStatus {
	r.lifecycle.Lock()
	modules := make([]types.ModuleStatus, 0, len(r.loaded))
	for _, lm := range r.loaded {
		modules = append(modules, lm.inst.Status())
	}
	r.lifecycle.Unlock()

	sort.Slice(modules, func(i, j int) bool { return modules[i].Name < modules[j].Name })

	port := 0
	if r.httpSrv != nil {
		port = r.httpSrv.Port()
	}
	return types.RuntimeStatus{
		PID:      os.Getpid(),
		UptimeMS: time.Since(r.startedAt).Milliseconds(),
		HTTPPort: port,
		Modules:  modules,
	}
}

// ListModules returns module summaries. Taken under the lifecycle lock so a
// concurrent reload can never be observed as an absent module.
func (r *Runtime) ListModules() []types.ModuleSummary {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	out := make([]types.ModuleSummary, 0, len(r.loaded))
	for _, lm := range r.loaded {
		out = append(out, lm.inst.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ModuleStatus returns one module's status
func (r *Runtime) ModuleStatus(name string) (types.ModuleStatus, error) {
	inst, err := r.registry.Get(name)
	if err != nil {
		return types.ModuleStatus{}, err
	}
	return inst.Status(), nil
}

// Inject publishes an event to the bus on behalf of a loaded module
func (r *Runtime) Inject(moduleName string, event *types.Event) error {
	if _, err := r.registry.Get(moduleName); err != nil {
		return err
	}
	event.Normalize()

	r.fanout.Emit(types.Record{
		Phase:   types.PhaseSourceEmit,
		EventID: event.ID,
		TraceID: event.TraceID,
		Module:  moduleName,
		Source:  event.Source,
	})
	return r.eventBus.Publish(moduleName, event)
}

// injectWebhookEvents publishes events returned by a webhook handler
func (r *Runtime) injectWebhookEvents(moduleName, sourceID string, events []*types.Event) {
	for _, event := range events {
		event.Normalize()
		if event.Source == "" {
			event.Source = sourceID
		}
		if err := r.Inject(moduleName, event); err != nil {
			r.reportError(fmt.Errorf("webhook inject failed for %s/%s: %w", moduleName, sourceID, err))
			return
		}
	}
}

// Bus exposes the event bus for tests and embedders
func (r *Runtime) Bus() bus.Bus {
	return r.eventBus
}

// Checkpoints exposes the checkpoint store
func (r *Runtime) Checkpoints() *checkpoint.Store {
	return r.checkpoints
}

// Fanout exposes the phase-record fan-out
func (r *Runtime) Fanout() *phaselog.Fanout {
	return r.fanout
}

// Port returns the bound control port, 0 when HTTP is disabled
func (r *Runtime) Port() int {
	if r.httpSrv == nil {
		return 0
	}
	return r.httpSrv.Port()
}

var _ server.Control = (*Runtime)(nil)
