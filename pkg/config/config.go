package config

import (
	"fmt"
	"os"

	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/pipeline"
	"github.com/orgloop/orgloop/pkg/types"
	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a module bundle from a YAML file
func LoadFile(path string) (types.ModuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.ModuleConfig{}, fmt.Errorf("failed to read module config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a module bundle from YAML bytes
func Parse(data []byte) (types.ModuleConfig, error) {
	var cfg types.ModuleConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return types.ModuleConfig{}, fmt.Errorf("invalid module config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return types.ModuleConfig{}, err
	}
	return cfg, nil
}

// Validate checks the structural rules a bundle must satisfy before any
// connector is instantiated
func Validate(cfg types.ModuleConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("module requires a name")
	}

	sources := make(map[string]bool, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.ID == "" {
			return fmt.Errorf("source requires an id")
		}
		if src.Kind == "" {
			return fmt.Errorf("source %s requires a kind", src.ID)
		}
		if sources[src.ID] {
			return fmt.Errorf("duplicate source id: %s", src.ID)
		}
		sources[src.ID] = true
	}

	actors := make(map[string]bool, len(cfg.Actors))
	for _, act := range cfg.Actors {
		if act.ID == "" {
			return fmt.Errorf("actor requires an id")
		}
		if act.Kind == "" {
			return fmt.Errorf("actor %s requires a kind", act.ID)
		}
		if actors[act.ID] {
			return fmt.Errorf("duplicate actor id: %s", act.ID)
		}
		actors[act.ID] = true
	}

	transforms := make(map[string]bool, len(cfg.Transforms))
	for _, def := range cfg.Transforms {
		if def.Name == "" {
			return fmt.Errorf("transform requires a name")
		}
		if transforms[def.Name] {
			return fmt.Errorf("duplicate transform name: %s", def.Name)
		}
		transforms[def.Name] = true

		switch def.Kind {
		case types.TransformKindPackage, types.TransformKindScript:
		default:
			return fmt.Errorf("transform %s has unknown kind %q", def.Name, def.Kind)
		}
		if err := validatePolicy(def.OnError); err != nil {
			return fmt.Errorf("transform %s: %w", def.Name, err)
		}
	}

	for _, route := range cfg.Routes {
		if route.Name == "" {
			return fmt.Errorf("route requires a name")
		}
		if !sources[route.When.Source] {
			return fmt.Errorf("route %s references unknown source %s", route.Name, route.When.Source)
		}
		if len(route.When.Events) == 0 {
			return fmt.Errorf("route %s requires at least one event type", route.Name)
		}
		if !actors[route.Then.Actor] {
			return fmt.Errorf("route %s references unknown actor %s", route.Name, route.Then.Actor)
		}
		for _, ref := range route.Transforms {
			if !transforms[ref.Ref] {
				return fmt.Errorf("route %s references unknown transform %s", route.Name, ref.Ref)
			}
			if err := validatePolicy(ref.OnError); err != nil {
				return fmt.Errorf("route %s transform %s: %w", route.Name, ref.Ref, err)
			}
		}
	}

	return nil
}

func validatePolicy(p types.ErrorPolicy) error {
	switch p {
	case "", types.ErrorPolicyPass, types.ErrorPolicyDrop, types.ErrorPolicyHalt:
		return nil
	}
	return fmt.Errorf("unknown on_error policy %q", p)
}

// Resolve instantiates the bundle's connectors through the kind registry.
// Script-kind transforms are built in-process; package-kind transforms
// resolve via the registry, using the "uses" config key (or the transform
// name) as the kind.
func Resolve(cfg types.ModuleConfig) (connector.Set, error) {
	set := connector.Set{
		Sources:    make(map[string]connector.Source, len(cfg.Sources)),
		Actors:     make(map[string]connector.Actor, len(cfg.Actors)),
		Transforms: make(map[string]connector.Transform, len(cfg.Transforms)),
	}

	for _, src := range cfg.Sources {
		s, err := connector.NewSource(src.Kind)
		if err != nil {
			return connector.Set{}, fmt.Errorf("source %s: %w", src.ID, err)
		}
		set.Sources[src.ID] = s
	}

	for _, act := range cfg.Actors {
		a, err := connector.NewActor(act.Kind)
		if err != nil {
			return connector.Set{}, fmt.Errorf("actor %s: %w", act.ID, err)
		}
		set.Actors[act.ID] = a
	}

	for _, def := range cfg.Transforms {
		if def.Kind == types.TransformKindScript {
			set.Transforms[def.Name] = &pipeline.ScriptTransform{}
			continue
		}
		kind := def.Name
		if uses, ok := def.Config["uses"].(string); ok && uses != "" {
			kind = uses
		}
		t, err := connector.NewTransform(kind)
		if err != nil {
			return connector.Set{}, fmt.Errorf("transform %s: %w", def.Name, err)
		}
		set.Transforms[def.Name] = t
	}

	for _, lg := range cfg.Loggers {
		l, err := connector.NewLogger(lg.Kind)
		if err != nil {
			return connector.Set{}, fmt.Errorf("logger %s: %w", lg.Kind, err)
		}
		set.Loggers = append(set.Loggers, l)
	}

	return set, nil
}
