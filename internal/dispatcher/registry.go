package dispatcher

import (
	"sort"
	"sync"

	"codi/internal/agentcore"
)

// Registry is a read-only-after-construction map from tool name to handler,
// safe to share by reference across the orchestrator and any workers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]ToolHandler)}
}

// Register adds or replaces a handler under name.
func (r *Registry) Register(name string, h ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the handler registered under name, if any.
func (r *Registry) Lookup(name string) (ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Definitions returns every registered tool's definition, sorted by name for
// stable ordering in provider requests.
func (r *Registry) Definitions() []agentcore.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]agentcore.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.handlers[name].Definition())
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
