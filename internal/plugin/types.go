// Package plugin implements the interception framework that every prompt
// fetch, tool invocation, and resource fetch passes through before and after
// it reaches its provider. Plugins are declared in a YAML configuration
// document, instantiated through a compiled-in kind registry, ordered by
// priority per hook point, and dispatched sequentially by the Manager.
package plugin

import "time"

// HookType identifies an interception point in the gateway request path.
type HookType string

// Hook points supported by the framework. Pre hooks run before the operation
// reaches its provider, post hooks run on the provider's result.
const (
	HookPromptPreFetch    HookType = "prompt_pre_fetch"
	HookPromptPostFetch   HookType = "prompt_post_fetch"
	HookToolPreInvoke     HookType = "tool_pre_invoke"
	HookToolPostInvoke    HookType = "tool_post_invoke"
	HookResourcePreFetch  HookType = "resource_pre_fetch"
	HookResourcePostFetch HookType = "resource_post_fetch"
)

// AllHooks lists every hook point in dispatch-surface order.
var AllHooks = []HookType{
	HookPromptPreFetch,
	HookPromptPostFetch,
	HookToolPreInvoke,
	HookToolPostInvoke,
	HookResourcePreFetch,
	HookResourcePostFetch,
}

// Valid reports whether h names a known hook point.
func (h HookType) Valid() bool {
	switch h {
	case HookPromptPreFetch, HookPromptPostFetch,
		HookToolPreInvoke, HookToolPostInvoke,
		HookResourcePreFetch, HookResourcePostFetch:
		return true
	}
	return false
}

// Mode is the per-plugin enforcement policy.
type Mode string

const (
	// ModeEnforce blocks the request when the plugin reports a violation.
	ModeEnforce Mode = "enforce"
	// ModePermissive logs violations but never blocks the request.
	ModePermissive Mode = "permissive"
	// ModeDisabled prevents the plugin from being loaded or run.
	ModeDisabled Mode = "disabled"
)

// Valid reports whether m is a known enforcement mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeEnforce, ModePermissive, ModeDisabled:
		return true
	}
	return false
}

// Condition is a declarative predicate gating when a plugin runs. Clauses
// that are empty impose no constraint. Within one condition all populated
// clauses must hold; a plugin's condition list is OR'd (see payloadMatches).
type Condition struct {
	// ServerIDs restricts the condition to requests from the listed virtual
	// servers.
	ServerIDs []string `yaml:"server_ids,omitempty" json:"server_ids,omitempty"`

	// TenantIDs restricts the condition to the listed tenants.
	TenantIDs []string `yaml:"tenant_ids,omitempty" json:"tenant_ids,omitempty"`

	// UserPatterns are substrings matched against the requesting user.
	UserPatterns []string `yaml:"user_patterns,omitempty" json:"user_patterns,omitempty"`

	// Tools, Prompts, and Resources restrict the condition to payloads
	// whose identifier (tool/prompt name, resource URI) is in the
	// corresponding set. Only the set matching the hook family of the
	// dispatched payload is consulted.
	Tools     []string `yaml:"tools,omitempty" json:"tools,omitempty"`
	Prompts   []string `yaml:"prompts,omitempty" json:"prompts,omitempty"`
	Resources []string `yaml:"resources,omitempty" json:"resources,omitempty"`

	// Agents is reserved for agent hook points. No such hook family exists
	// yet, so the set is accepted in configuration but imposes no
	// constraint (see identifierSet).
	Agents []string `yaml:"agents,omitempty" json:"agents,omitempty"`

	// Expression is an optional CEL expression evaluated against the global
	// context and the payload identifier. Compiled once at initialization;
	// an expression that fails to compile is a fatal configuration error.
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// ExternalConfig describes how to reach the remote host of an external
// plugin. Exactly one transport is used, selected by Proto.
type ExternalConfig struct {
	// Proto selects the transport: "stdio" or "streamablehttp".
	Proto string `yaml:"proto" json:"proto" validate:"required,oneof=stdio streamablehttp"`

	// Command and Args spawn the plugin host as a subprocess (stdio).
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`

	// URL is the endpoint of a remote plugin host (streamablehttp).
	URL string `yaml:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`

	// APIKey is sent as X-Toolgate-Api-Key on every HTTP request to a host
	// that requires authentication. Supports ${VAR} substitution.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// Config is one plugin entry in the configuration document.
type Config struct {
	// Name uniquely identifies the plugin instance.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Kind selects the implementation: a name registered through
	// RegisterKind for in-process plugins, or "external" for a plugin
	// reached through an MCP host (see the external package).
	Kind string `yaml:"kind" json:"kind" validate:"required"`

	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string   `yaml:"author,omitempty" json:"author,omitempty"`
	Version     string   `yaml:"version,omitempty" json:"version,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Hooks lists the hook points this plugin participates in. For external
	// plugins the list may be omitted locally and taken from the remote
	// host's configuration during initialization.
	Hooks []HookType `yaml:"hooks,omitempty" json:"hooks,omitempty" validate:"omitempty,dive,hook_type"`

	// Mode is the enforcement policy. Defaults to "enforce".
	Mode Mode `yaml:"mode,omitempty" json:"mode,omitempty" validate:"omitempty,oneof=enforce permissive disabled"`

	// Priority orders plugins within a hook; lower runs first. Ties keep
	// configuration order.
	Priority int `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Conditions gate execution; an empty list matches every request.
	Conditions []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// Config is the opaque key/value map handed to the plugin constructor.
	Config map[string]any `yaml:"config,omitempty" json:"config,omitempty"`

	// AppliedTo carries plugin-specific extension data (for example
	// per-tool policy-endpoint scoping). Opaque to the manager.
	AppliedTo map[string]any `yaml:"applied_to,omitempty" json:"applied_to,omitempty"`

	// MCP describes the remote host for kind "external".
	MCP *ExternalConfig `yaml:"mcp,omitempty" json:"mcp,omitempty"`

	// TimeoutSeconds bounds each hook invocation of this plugin. Zero falls
	// back to plugin_settings.plugin_timeout.
	TimeoutSeconds int `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,min=0"`
}

// Timeout returns the per-invocation bound for this plugin, or zero when the
// manager-wide default applies.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultTimeoutSeconds is the fallback per-invocation bound when neither the
// plugin entry nor plugin_settings configures one.
const DefaultTimeoutSeconds = 60

// Settings are the manager-wide knobs from the plugin_settings section.
type Settings struct {
	// PluginTimeoutSeconds is the default per-invocation timeout.
	PluginTimeoutSeconds int `yaml:"plugin_timeout,omitempty" json:"plugin_timeout,omitempty" validate:"omitempty,min=0"`

	// FailOnPluginError escalates invocation and timeout errors to a
	// blocked request instead of logging and continuing.
	FailOnPluginError bool `yaml:"fail_on_plugin_error,omitempty" json:"fail_on_plugin_error,omitempty"`
}

// Timeout returns the manager-wide per-invocation bound.
func (s Settings) Timeout() time.Duration {
	if s.PluginTimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(s.PluginTimeoutSeconds) * time.Second
}

// ConfigFile is the parsed plugin configuration document.
type ConfigFile struct {
	// Plugins are the plugin entries, in declaration order.
	Plugins []Config `yaml:"plugins" json:"plugins" validate:"omitempty,dive"`

	// PluginDirs are search locations recorded for operator tooling. Kinds
	// resolve through the compiled-in registry, so the directories are not
	// scanned at runtime.
	PluginDirs []string `yaml:"plugin_dirs,omitempty" json:"plugin_dirs,omitempty"`

	// Settings holds the manager-wide plugin settings.
	Settings Settings `yaml:"plugin_settings,omitempty" json:"plugin_settings,omitempty"`
}

// PluginNamed returns the entry with the given name, or nil.
func (f *ConfigFile) PluginNamed(name string) *Config {
	for i := range f.Plugins {
		if f.Plugins[i].Name == name {
			return &f.Plugins[i]
		}
	}
	return nil
}
