package tools

import (
	"sync"
)

// Registry stores tools by name for resolution at dispatch time.
// Disabled tools stay registered but do not resolve.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	calls map[string]int
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		calls: make(map[string]int),
	}
}

func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Spec().Name] = tool
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get resolves a name to an enabled tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok || tool.Spec().Status == StatusDisabled {
		return nil, false
	}
	return tool, true
}

// RecordCall bumps the usage counter for a tool.
func (r *Registry) RecordCall(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[name]++
}

// CallCount reports how often a tool has been invoked.
func (r *Registry) CallCount(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[name]
}

// AllSpecs returns the specs of all enabled tools, for advertising to the model.
func (r *Registry) AllSpecs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.tools))
	for _, tool := range r.tools {
		spec := tool.Spec()
		if spec.Status == StatusDisabled {
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

// Len returns the number of registered tools, disabled included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
