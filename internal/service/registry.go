package service

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Registry maps service names to connector definitions. It is built once
// at startup and passed explicitly; there is no package-level registry.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a connector definition. Registering the same service twice
// or a definition without constructor or identity fields is a programming
// error and panics.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.New == nil {
		panic(fmt.Sprintf("service: Register constructor is nil for %s", d.Service))
	}
	if len(d.IdentityFields) == 0 {
		panic(fmt.Sprintf("service: Register %s declares no identity fields", d.Service))
	}
	if _, exists := r.defs[d.Service]; exists {
		panic(fmt.Sprintf("service: Register called twice for %s", d.Service))
	}

	r.defs[d.Service] = d
}

// Lookup returns the definition registered for service.
func (r *Registry) Lookup(service string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.defs[service]
	if !ok {
		return Definition{}, fmt.Errorf("%s: %w", service, ErrUnknownService)
	}
	return d, nil
}

// Services returns the registered service names, sorted.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up the definition of every target without constructing
// connectors. It is enough for UDA listing and dry inspections.
func (r *Registry) Resolve(targets []*config.Target) ([]Target, error) {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		d, err := r.Lookup(t.Service)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		out = append(out, Target{Name: t.Name, Definition: d})
	}
	return out, nil
}

// Build resolves targets and constructs their connectors.
func (r *Registry) Build(targets []*config.Target, logger *log.Logger) ([]Target, error) {
	resolved, err := r.Resolve(targets)
	if err != nil {
		return nil, err
	}
	for i, t := range targets {
		c, err := resolved[i].Definition.New(t.Name, t.Options, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure target %s: %w", t.Name, err)
		}
		resolved[i].Connector = c
	}
	return resolved, nil
}

// Declarers returns the UDA declarers of targets, one per distinct service.
func Declarers(targets []Target) []uda.Declarer {
	seen := make(map[string]bool)
	var out []uda.Declarer
	for _, t := range targets {
		if seen[t.Definition.Service] {
			continue
		}
		seen[t.Definition.Service] = true
		out = append(out, t.Definition)
	}
	return out
}
