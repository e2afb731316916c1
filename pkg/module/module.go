package module

import (
	"fmt"
	"sync"
	"time"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/health"
	"github.com/orgloop/orgloop/pkg/log"
	"github.com/orgloop/orgloop/pkg/types"
	"github.com/rs/zerolog"
)

// Instance encapsulates one module's lifecycle, connectors, routes and
// health. It owns no shared infrastructure; the runtime wires its sources
// into the scheduler and webhook server on activation.
type Instance struct {
	cfg        types.ModuleConfig
	connectors connector.Set
	health     *health.Set
	logger     zerolog.Logger

	mu       sync.RWMutex
	state    types.ModuleState
	loadedAt time.Time
}

// New builds an instance from a validated config and its resolved
// connectors. Health records exist for every declared source from here on.
func New(cfg types.ModuleConfig, set connector.Set, healthCfg health.Config) *Instance {
	sourceIDs := make([]string, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sourceIDs = append(sourceIDs, src.ID)
	}

	return &Instance{
		cfg:        cfg,
		connectors: set,
		health:     health.NewSet(cfg.Name, healthCfg, sourceIDs),
		logger:     log.WithModule(cfg.Name),
		state:      types.ModuleLoading,
	}
}

// Initialize initializes every connector, fail-fast: the first error aborts
// the load. It also verifies that routes reference declared connectors.
func (i *Instance) Initialize() error {
	if err := i.validateRoutes(); err != nil {
		return err
	}

	for _, src := range i.cfg.Sources {
		s, ok := i.connectors.Sources[src.ID]
		if !ok {
			return fmt.Errorf("source %s has no resolved connector", src.ID)
		}
		if err := s.Init(src.Config); err != nil {
			return fmt.Errorf("source %s init failed: %w", src.ID, err)
		}
	}

	for _, act := range i.cfg.Actors {
		a, ok := i.connectors.Actors[act.ID]
		if !ok {
			return fmt.Errorf("actor %s has no resolved connector", act.ID)
		}
		if err := a.Init(act.Config); err != nil {
			return fmt.Errorf("actor %s init failed: %w", act.ID, err)
		}
	}

	for _, def := range i.cfg.Transforms {
		t, ok := i.connectors.Transforms[def.Name]
		if !ok {
			return fmt.Errorf("transform %s has no resolved connector", def.Name)
		}
		if err := t.Init(def.Config); err != nil {
			return fmt.Errorf("transform %s init failed: %w", def.Name, err)
		}
	}

	for n, l := range i.connectors.Loggers {
		var cfg map[string]any
		if n < len(i.cfg.Loggers) {
			cfg = i.cfg.Loggers[n].Config
		}
		if err := l.Init(cfg); err != nil {
			return fmt.Errorf("logger init failed: %w", err)
		}
	}

	return nil
}

func (i *Instance) validateRoutes() error {
	seen := make(map[string]bool, len(i.cfg.Routes))
	for _, route := range i.cfg.Routes {
		if route.Name == "" {
			return fmt.Errorf("route without a name")
		}
		if seen[route.Name] {
			return fmt.Errorf("duplicate route name: %s", route.Name)
		}
		seen[route.Name] = true

		if _, ok := i.connectors.Sources[route.When.Source]; !ok {
			return fmt.Errorf("route %s references unknown source %s", route.Name, route.When.Source)
		}
		if len(route.When.Events) == 0 {
			return fmt.Errorf("route %s matches no event types", route.Name)
		}
		if _, ok := i.connectors.Actors[route.Then.Actor]; !ok {
			return fmt.Errorf("route %s references unknown actor %s", route.Name, route.Then.Actor)
		}
		for _, ref := range route.Transforms {
			if _, ok := i.connectors.Transforms[ref.Ref]; !ok {
				return fmt.Errorf("route %s references unknown transform %s", route.Name, ref.Ref)
			}
		}
	}
	return nil
}

// Activate marks the module active and records its start time
func (i *Instance) Activate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = types.ModuleActive
	i.loadedAt = time.Now().UTC()
}

// Deactivate marks the module unloading; the scheduler stops polling its
// sources separately
func (i *Instance) Deactivate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = types.ModuleUnloading
}

// Shutdown shuts down every connector, best-effort: individual failures are
// logged and do not prevent visiting the rest
func (i *Instance) Shutdown() {
	for id, s := range i.connectors.Sources {
		if err := s.Shutdown(); err != nil {
			i.logger.Error().Err(err).Str("source", id).Msg("Source shutdown failed")
		}
	}
	for id, a := range i.connectors.Actors {
		if err := a.Shutdown(); err != nil {
			i.logger.Error().Err(err).Str("actor", id).Msg("Actor shutdown failed")
		}
	}
	for name, t := range i.connectors.Transforms {
		if err := t.Shutdown(); err != nil {
			i.logger.Error().Err(err).Str("transform", name).Msg("Transform shutdown failed")
		}
	}
	for _, l := range i.connectors.Loggers {
		if err := l.Flush(); err != nil {
			i.logger.Error().Err(err).Msg("Logger flush failed")
		}
		if err := l.Shutdown(); err != nil {
			i.logger.Error().Err(err).Msg("Logger shutdown failed")
		}
	}

	i.mu.Lock()
	i.state = types.ModuleRemoved
	i.mu.Unlock()
}

// Name returns the module's singleton identity
func (i *Instance) Name() string {
	return i.cfg.Name
}

// Config returns the module configuration
func (i *Instance) Config() types.ModuleConfig {
	return i.cfg
}

// Routes returns the module's routes in declaration order
func (i *Instance) Routes() []types.Route {
	return i.cfg.Routes
}

// Source returns a source connector by id
func (i *Instance) Source(id string) (connector.Source, bool) {
	s, ok := i.connectors.Sources[id]
	return s, ok
}

// Actor returns an actor connector by id
func (i *Instance) Actor(id string) (connector.Actor, bool) {
	a, ok := i.connectors.Actors[id]
	return a, ok
}

// Transform returns a transform connector by name
func (i *Instance) Transform(name string) (connector.Transform, bool) {
	t, ok := i.connectors.Transforms[name]
	return t, ok
}

// Loggers returns the module's phase-record loggers
func (i *Instance) Loggers() []connector.Logger {
	return i.connectors.Loggers
}

// HealthSet returns the module's health tracker
func (i *Instance) HealthSet() *health.Set {
	return i.health
}

// State returns the lifecycle state
func (i *Instance) State() types.ModuleState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// LoadedAt returns the activation time
func (i *Instance) LoadedAt() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loadedAt
}

// Status returns the inspectable snapshot of the module
func (i *Instance) Status() types.ModuleStatus {
	i.mu.RLock()
	state := i.state
	loadedAt := i.loadedAt
	i.mu.RUnlock()

	actors := make([]string, 0, len(i.cfg.Actors))
	for _, a := range i.cfg.Actors {
		actors = append(actors, a.ID)
	}
	routes := make([]string, 0, len(i.cfg.Routes))
	for _, r := range i.cfg.Routes {
		routes = append(routes, r.Name)
	}

	return types.ModuleStatus{
		Name:     i.cfg.Name,
		State:    state,
		LoadedAt: loadedAt,
		Sources:  i.health.Snapshot(),
		Actors:   actors,
		Routes:   routes,
	}
}

// Summary returns the abbreviated listing entry
func (i *Instance) Summary() types.ModuleSummary {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return types.ModuleSummary{
		Name:     i.cfg.Name,
		State:    i.state,
		LoadedAt: i.loadedAt,
	}
}
