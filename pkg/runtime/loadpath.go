package runtime

import (
	"fmt"

	"github.com/orgloop/orgloop/pkg/config"
	"github.com/orgloop/orgloop/pkg/connector"
	"github.com/orgloop/orgloop/pkg/server"
	"github.com/orgloop/orgloop/pkg/types"
)

// LoadModuleFromPath loads a module bundle from a YAML file, resolving its
// connectors through the configured resolver (default: the kind registry).
// params currently supports "name" to override the bundle's module name.
func (r *Runtime) LoadModuleFromPath(path string, params map[string]any) (types.ModuleStatus, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return types.ModuleStatus{}, fmt.Errorf("%w: %v", server.ErrBadRequest, err)
	}

	if name, ok := params["name"].(string); ok && name != "" {
		cfg.Name = name
	}

	factory := r.cfg.Resolver
	if factory == nil {
		factory = func(cfg types.ModuleConfig) (connector.Set, error) {
			return config.Resolve(cfg)
		}
	}
	return r.LoadModule(cfg, factory)
}
