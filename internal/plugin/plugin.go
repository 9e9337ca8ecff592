package plugin

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Plugin is the common surface of every loaded plugin instance. Hook
// behavior lives in the per-hook interfaces below; a plugin implements only
// the hooks it declares in its configuration, which the loader verifies at
// startup.
type Plugin interface {
	// Name returns the unique instance name from the configuration.
	Name() string

	// Priority orders the plugin within a hook; lower runs first.
	Priority() int

	// Mode returns the enforcement policy.
	Mode() Mode

	// Hooks lists the hook points the plugin participates in.
	Hooks() []HookType

	// Conditions gate when the plugin runs; empty means always.
	Conditions() []Condition

	// Initialize prepares the plugin (for external plugins: connects to
	// the remote host). Called once by the manager before registration.
	Initialize(ctx context.Context) error

	// Shutdown releases plugin resources. Must be safe to call more than
	// once.
	Shutdown(ctx context.Context) error
}

// Hook interfaces, one per hook point. The payload passed in is the latest
// replacement produced by an earlier plugin in the chain, or the caller's
// original. Implementations must honor ctx cancellation: the manager bounds
// every invocation with a deadline.
type (
	// PromptPreFetcher runs before a prompt template is retrieved.
	PromptPreFetcher interface {
		PromptPreFetch(ctx context.Context, payload *PromptPrePayload, pctx *Context) (*PromptPreResult, error)
	}

	// PromptPostFetcher runs on the rendered prompt.
	PromptPostFetcher interface {
		PromptPostFetch(ctx context.Context, payload *PromptPostPayload, pctx *Context) (*PromptPostResult, error)
	}

	// ToolPreInvoker runs before a tool invocation reaches its provider.
	ToolPreInvoker interface {
		ToolPreInvoke(ctx context.Context, payload *ToolPrePayload, pctx *Context) (*ToolPreResult, error)
	}

	// ToolPostInvoker runs on the tool provider's result.
	ToolPostInvoker interface {
		ToolPostInvoke(ctx context.Context, payload *ToolPostPayload, pctx *Context) (*ToolPostResult, error)
	}

	// ResourcePreFetcher runs before a resource is fetched.
	ResourcePreFetcher interface {
		ResourcePreFetch(ctx context.Context, payload *ResourcePrePayload, pctx *Context) (*ResourcePreResult, error)
	}

	// ResourcePostFetcher runs on the fetched resource content.
	ResourcePostFetcher interface {
		ResourcePostFetch(ctx context.Context, payload *ResourcePostPayload, pctx *Context) (*ResourcePostResult, error)
	}
)

// implementsHook reports whether p provides the hook method for h.
func implementsHook(p Plugin, h HookType) bool {
	switch h {
	case HookPromptPreFetch:
		_, ok := p.(PromptPreFetcher)
		return ok
	case HookPromptPostFetch:
		_, ok := p.(PromptPostFetcher)
		return ok
	case HookToolPreInvoke:
		_, ok := p.(ToolPreInvoker)
		return ok
	case HookToolPostInvoke:
		_, ok := p.(ToolPostInvoker)
		return ok
	case HookResourcePreFetch:
		_, ok := p.(ResourcePreFetcher)
		return ok
	case HookResourcePostFetch:
		_, ok := p.(ResourcePostFetcher)
		return ok
	}
	return false
}

// Base provides the Plugin accessors and no-op lifecycle methods for
// in-process plugins. Embed it and implement the hook interfaces the plugin
// declares.
type Base struct {
	config Config
}

// NewBase wraps a configuration entry for embedding.
func NewBase(cfg Config) Base {
	return Base{config: cfg}
}

// Name implements Plugin.
func (b *Base) Name() string { return b.config.Name }

// Priority implements Plugin.
func (b *Base) Priority() int { return b.config.Priority }

// Mode implements Plugin.
func (b *Base) Mode() Mode {
	if b.config.Mode == "" {
		return ModeEnforce
	}
	return b.config.Mode
}

// Hooks implements Plugin.
func (b *Base) Hooks() []HookType { return b.config.Hooks }

// Conditions implements Plugin.
func (b *Base) Conditions() []Condition { return b.config.Conditions }

// Config returns the full configuration entry.
func (b *Base) Config() Config { return b.config }

// Initialize implements Plugin as a no-op.
func (b *Base) Initialize(ctx context.Context) error { return nil }

// Shutdown implements Plugin as a no-op.
func (b *Base) Shutdown(ctx context.Context) error { return nil }

// DecodeConfig unmarshals a plugin's opaque config map into a typed
// settings struct, using the same YAML field rules as the configuration
// document itself.
func DecodeConfig(m map[string]any, out any) error {
	raw, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}
