// registry.go routes logical model identifiers to registered backends.
// Registration happens once at process start through an explicit init
// call from the host's startup path; the table is read-only afterwards.
package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registration describes one backend's claim on model identifiers.
type Registration struct {
	// Name is the canonical backend name.
	Name string

	// Aliases are additional names accepted by the "<name>-" prefix
	// fallback and by name lookups.
	Aliases []string

	// Priority orders predicate evaluation; higher wins. Equal
	// priorities resolve in registration order.
	Priority int

	// CanHandle reports whether this backend serves the model.
	CanHandle func(model string) bool

	// Factory constructs the Provider. Called at most once per
	// registration; the instance is cached so repeated resolution
	// reuses its lazily-detected state.
	Factory func() Provider
}

type entry struct {
	Registration
	order int

	once     sync.Once
	provider Provider
}

func (e *entry) instance() Provider {
	e.once.Do(func() {
		e.provider = e.Factory()
	})
	return e.provider
}

// Registry maps model identifiers to providers.
type Registry struct {
	mu          sync.RWMutex
	entries     []*entry
	byName      map[string]*entry
	defaultName string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*entry)}
}

// Register adds a backend. Names and aliases must be unique.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return fmt.Errorf("registration name is empty")
	}
	if reg.Factory == nil {
		return fmt.Errorf("registration %q has no factory", reg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := append([]string{reg.Name}, reg.Aliases...)
	for _, name := range names {
		if _, ok := r.byName[strings.ToLower(name)]; ok {
			return fmt.Errorf("backend %q already registered", name)
		}
	}

	e := &entry{Registration: reg, order: len(r.entries)}
	r.entries = append(r.entries, e)
	for _, name := range names {
		r.byName[strings.ToLower(name)] = e
	}

	// Keep entries in evaluation order: priority descending, then
	// registration order (stable among equals).
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].Priority != r.entries[j].Priority {
			return r.entries[i].Priority > r.entries[j].Priority
		}
		return r.entries[i].order < r.entries[j].order
	})
	return nil
}

// SetDefault names the backend used when no predicate or prefix matches.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = strings.ToLower(name)
}

// Resolve returns the provider serving the model identifier.
func (r *Registry) Resolve(model string) (Provider, error) {
	e, err := r.resolveEntry(model)
	if err != nil {
		return nil, err
	}
	return e.instance(), nil
}

// ResolveName returns the canonical backend name for a model identifier.
func (r *Registry) ResolveName(model string) (string, error) {
	e, err := r.resolveEntry(model)
	if err != nil {
		return "", err
	}
	return e.Name, nil
}

// resolveEntry applies the resolution order: predicate match in
// priority order, then "<name>-" prefix match, then the default.
func (r *Registry) resolveEntry(model string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.entries) == 0 {
		return nil, fmt.Errorf("no backends registered")
	}

	for _, e := range r.entries {
		if e.CanHandle != nil && e.CanHandle(model) {
			return e, nil
		}
	}

	lower := strings.ToLower(model)
	for _, e := range r.entries {
		for _, name := range append([]string{e.Name}, e.Aliases...) {
			if strings.HasPrefix(lower, strings.ToLower(name)+"-") {
				return e, nil
			}
		}
	}

	if r.defaultName != "" {
		if e, ok := r.byName[r.defaultName]; ok {
			return e, nil
		}
	}

	return nil, fmt.Errorf("no backend can serve model %q (available: %s)", model, strings.Join(r.names(), ", "))
}

// Get returns the provider registered under name (or an alias).
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	e, ok := r.byName[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.instance(), true
}

// Names returns the canonical backend names in evaluation order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Name)
	}
	return names
}

// defaultRegistry is the process-wide registry populated once by the
// host's startup path (see internal/backends.Init).
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Resolve routes a model identifier through the process-wide registry.
func Resolve(model string) (Provider, error) {
	return defaultRegistry.Resolve(model)
}

// ResolveName returns the backend name for a model identifier using the
// process-wide registry.
func ResolveName(model string) (string, error) {
	return defaultRegistry.ResolveName(model)
}
