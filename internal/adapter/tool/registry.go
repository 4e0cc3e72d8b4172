package tool

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"nimbus/internal/domain"
)

// Registry holds named tools and their sensitivity classification.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]domain.Tool
	sensitivity map[string]domain.Sensitivity
	logger      *slog.Logger
}

// NewRegistry creates an empty tool registry.
// If logger is non-nil, tools are wrapped with schema validation on Register;
// compilation errors are logged and the tool is registered unwrapped.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:       make(map[string]domain.Tool),
		sensitivity: make(map[string]domain.Sensitivity),
		logger:      logger,
	}
}

// Register adds a tool with the given sensitivity. Returns error if the
// name is already registered. If the registry was created with a logger,
// the tool is wrapped with schema validation; if schema compilation fails,
// the tool is registered without validation and a warning is logged.
func (r *Registry) Register(t domain.Tool, sensitivity domain.Sensitivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	if r.logger != nil {
		wrapped, err := WithSchemaValidation(t)
		if err != nil {
			r.logger.Warn("schema validation disabled for tool",
				"tool", name, "error", err)
		} else {
			t = wrapped
		}
	}

	r.tools[name] = t
	r.sensitivity[name] = sensitivity
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Sensitivity returns the sensitivity of the named tool. Unknown names
// report auto so a bad call surfaces as a lookup failure during execution
// instead of stalling the thread on an approval nobody can answer.
func (r *Registry) Sensitivity(name string) domain.Sensitivity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sensitivity[name]
	if !ok {
		return domain.SensitivityAuto
	}
	return s
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Schemas returns all tool schemas for LLM function-calling, sorted by
// name so prompt assembly is deterministic.
func (r *Registry) Schemas() []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(r.tools))
	for _, t := range r.List() {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

var _ domain.ToolRegistry = (*Registry)(nil)
