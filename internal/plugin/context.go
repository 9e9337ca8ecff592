package plugin

import "github.com/google/uuid"

// GlobalContext carries the request-scoped identity shared by every plugin
// in a dispatch. It is owned by the caller and treated as immutable for the
// duration of one client-visible operation.
type GlobalContext struct {
	// RequestID uniquely identifies the logical request. Required; the pre
	// and post hook of the same operation must share it so plugins can
	// correlate their two invocations.
	RequestID string `json:"request_id"`

	ServerID string `json:"server_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	User     string `json:"user,omitempty"`

	// State is request-scoped data shared across plugins, propagated back
	// from external plugin hosts.
	State map[string]any `json:"state,omitempty"`
}

// NewGlobalContext returns a context with a generated request id.
func NewGlobalContext() *GlobalContext {
	return &GlobalContext{RequestID: uuid.NewString()}
}

// Context is the per-(request, plugin) state handle. The manager creates it
// lazily on first use and hands the same instance to the paired pre and post
// hook of one logical operation, so a plugin can stash intermediate state in
// its pre hook and retrieve it in its post hook. Never shared across plugins.
type Context struct {
	// Global is the request-scoped context of the dispatch that created
	// this handle.
	Global *GlobalContext `json:"global_context,omitempty"`

	// State is the plugin's private scratch space.
	State map[string]any `json:"state,omitempty"`

	// Metadata is diagnostic data the plugin wants surfaced alongside its
	// results.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewContext returns an empty context bound to the given global context.
func NewContext(g *GlobalContext) *Context {
	return &Context{
		Global: g,
		State:  make(map[string]any),
	}
}

// Get returns the state value for key, with ok reporting presence.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.State[key]
	return v, ok
}

// Set stores a state value, allocating the state map if needed.
func (c *Context) Set(key string, value any) {
	if c.State == nil {
		c.State = make(map[string]any)
	}
	c.State[key] = value
}

// ContextTable maps requestID+pluginUUID keys to plugin contexts. The caller
// threads the table returned by a pre hook dispatch into the matching post
// hook dispatch to preserve context identity.
type ContextTable map[string]*Context

// contextKey builds the table key for one (request, plugin instance) pair.
func contextKey(requestID, pluginUUID string) string {
	return requestID + pluginUUID
}
