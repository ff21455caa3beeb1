package plugin

import (
	"sort"
	"sync"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/trainer"
)

// Registry is an explicit slug-keyed plugin table, populated once
// from the static catalog instead of being discovered by reflection.
// It is read-only after construction.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry builds a registry from an explicit plugin list.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		if _, dup := r.plugins[p.Slug()]; dup {
			return nil, errors.NewValueError("plugin.NewRegistry", "duplicate plugin slug "+p.Slug())
		}
		r.plugins[p.Slug()] = p
	}
	return r, nil
}

// Get returns the plugin registered under slug.
func (r *Registry) Get(slug string) (Plugin, error) {
	p, ok := r.plugins[slug]
	if !ok {
		return nil, errors.NewNotFoundError("plugin", slug)
	}
	return p, nil
}

// All returns every plugin in slug order.
func (r *Registry) All() []Plugin {
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug() < out[j].Slug() })
	return out
}

// ByTask returns every plugin declaring support for task, in slug
// order.
func (r *Registry) ByTask(task trainer.Task) []Plugin {
	var out []Plugin
	for _, p := range r.All() {
		for _, t := range p.Tasks() {
			if t == task {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry holding the full catalog,
// building it on first use. Concurrent first calls are safe; every
// caller observes the same populated registry.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		r, err := NewRegistry(catalog()...)
		if err != nil {
			// The catalog is static; a duplicate slug is a programming
			// error caught by the registry tests.
			panic(err)
		}
		defaultRegistry = r
	}
	return defaultRegistry
}

// Reset discards the default registry so the next Default call
// rebuilds it. Test hook.
func Reset() {
	defaultMu.Lock()
	defaultRegistry = nil
	defaultMu.Unlock()
}
