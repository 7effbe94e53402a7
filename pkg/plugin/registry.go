package plugin

import (
	"fmt"
	"sort"

	"github.com/meetscribe/meetscribe/pkg/errors"
)

// Registry resolves plugin names to instances. Construct once at process
// start, register every plugin, then inject where needed; it is read-only
// after construction and safe for concurrent use.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry creates a registry with the given plugins.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		r.plugins[p.Info().Name] = p
	}
	return r
}

// Get resolves a plugin name. An unknown name is a configuration error and
// must be surfaced at meeting creation, before any record exists.
func (r *Registry) Get(name string) (Plugin, error) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownPlugin, name)
	}
	return p, nil
}

// List returns the public descriptions of all plugins, sorted by name.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
