package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/domain/task"
)

// ToolFunc is the body of a tool. It receives validated arguments with schema
// defaults applied and must honour ctx cancellation when it can block.
type ToolFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolSpec binds a tool definition (input schema) to its output schema and
// implementation.
type ToolSpec struct {
	Definition     ports.ToolDefinition
	Output         ports.ParameterSchema
	Fn             ToolFunc
	Implementation task.Implementation
}

// Name returns the tool's registered name.
func (s ToolSpec) Name() string {
	return s.Definition.Name
}

// Registry is a name-keyed set of tool specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]ToolSpec
}

// NewRegistry builds a registry from specs. Duplicate or empty names are
// rejected.
func NewRegistry(specs ...ToolSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]ToolSpec, len(specs))}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a spec. The name must be unique.
func (r *Registry) Register(spec ToolSpec) error {
	name := strings.TrimSpace(spec.Name())
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if spec.Fn == nil {
		return fmt.Errorf("tool %s has no implementation", name)
	}
	if spec.Implementation == "" {
		spec.Implementation = task.ImplementationDeterministic
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.specs[name] = spec
	return nil
}

// Get looks a spec up by name.
func (r *Registry) Get(name string) (ToolSpec, bool) {
	if r == nil {
		return ToolSpec{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns the registered tool names in sorted order.
func (r *Registry) List() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns tool definitions sorted by name.
func (r *Registry) Definitions() []ports.ToolDefinition {
	names := r.List()
	defs := make([]ports.ToolDefinition, 0, len(names))
	for _, name := range names {
		spec, _ := r.Get(name)
		defs = append(defs, spec.Definition)
	}
	return defs
}

// Schema returns the input schema of a tool.
func (r *Registry) Schema(name string) (ports.ParameterSchema, bool) {
	spec, ok := r.Get(name)
	if !ok {
		return ports.ParameterSchema{}, false
	}
	return spec.Definition.Parameters, true
}

// WithOverrides returns a copy of the registry where the given specs replace
// (or add to) the existing entries. The receiver is not modified.
func (r *Registry) WithOverrides(overrides ...ToolSpec) *Registry {
	r.mu.RLock()
	next := &Registry{specs: make(map[string]ToolSpec, len(r.specs)+len(overrides))}
	for name, spec := range r.specs {
		next.specs[name] = spec
	}
	r.mu.RUnlock()

	for _, spec := range overrides {
		if spec.Implementation == "" {
			spec.Implementation = task.ImplementationDeterministic
		}
		next.specs[spec.Name()] = spec
	}
	return next
}
