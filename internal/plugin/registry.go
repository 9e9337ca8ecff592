package plugin

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// InstanceRef pairs a loaded plugin with the instance UUID used to key its
// per-request contexts.
type InstanceRef struct {
	plugin Plugin
	uuid   string
}

func newInstanceRef(p Plugin) *InstanceRef {
	return &InstanceRef{plugin: p, uuid: uuid.NewString()}
}

// Plugin returns the underlying plugin.
func (r *InstanceRef) Plugin() Plugin { return r.plugin }

// UUID returns the instance identifier. Unique per loaded instance, stable
// for the manager's lifetime, and combined with the request id to key the
// plugin's context across paired pre/post hook calls.
func (r *InstanceRef) UUID() string { return r.uuid }

// Name returns the plugin's configured name.
func (r *InstanceRef) Name() string { return r.plugin.Name() }

// Priority returns the plugin's dispatch priority.
func (r *InstanceRef) Priority() int { return r.plugin.Priority() }

// Mode returns the plugin's enforcement mode.
func (r *InstanceRef) Mode() Mode { return r.plugin.Mode() }

// Conditions returns the plugin's execution conditions.
func (r *InstanceRef) Conditions() []Condition { return r.plugin.Conditions() }

// InstanceRegistry holds the loaded plugin instances, indexed by hook type
// and ordered by ascending priority with registration order breaking ties.
// Registration is append-only during manager initialization; afterwards the
// registry is read-only and safe for unsynchronized concurrent reads.
type InstanceRegistry struct {
	plugins map[string]*InstanceRef
	order   []*InstanceRef
	hooks   map[HookType][]*InstanceRef
}

// NewInstanceRegistry creates an empty registry.
func NewInstanceRegistry() *InstanceRegistry {
	return &InstanceRegistry{
		plugins: make(map[string]*InstanceRef),
		hooks:   make(map[HookType][]*InstanceRef),
	}
}

// Register adds a plugin instance. It rejects duplicate names, unknown hook
// types, and hooks the plugin declares but does not implement — all fatal
// configuration errors at startup rather than surprises at first use.
func (reg *InstanceRegistry) Register(p Plugin) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin has no name")
	}
	if _, dup := reg.plugins[name]; dup {
		return fmt.Errorf("plugin %q already registered", name)
	}
	hooks := p.Hooks()
	if len(hooks) == 0 {
		return fmt.Errorf("plugin %q declares no hooks", name)
	}
	for _, h := range hooks {
		if !h.Valid() {
			return fmt.Errorf("plugin %q declares unknown hook %q", name, h)
		}
		if !implementsHook(p, h) {
			return fmt.Errorf("plugin %q declares hook %q but does not implement it", name, h)
		}
	}

	ref := newInstanceRef(p)
	reg.plugins[name] = ref
	reg.order = append(reg.order, ref)
	for _, h := range hooks {
		list := append(reg.hooks[h], ref)
		// Stable sort keeps registration order on equal priorities, so
		// dispatch order is deterministic and reproducible.
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority() < list[j].Priority()
		})
		reg.hooks[h] = list
	}
	return nil
}

// PluginsForHook returns the plugins registered for a hook, in dispatch
// order. The returned slice must not be modified.
func (reg *InstanceRegistry) PluginsForHook(h HookType) []*InstanceRef {
	return reg.hooks[h]
}

// Get returns the instance with the given name, or nil.
func (reg *InstanceRegistry) Get(name string) *InstanceRef {
	return reg.plugins[name]
}

// All returns every registered instance in registration order.
func (reg *InstanceRegistry) All() []*InstanceRef {
	out := make([]*InstanceRef, len(reg.order))
	copy(out, reg.order)
	return out
}

// Len returns the number of registered plugins.
func (reg *InstanceRegistry) Len() int { return len(reg.plugins) }
