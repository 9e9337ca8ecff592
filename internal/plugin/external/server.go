package external

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolgate/toolgate/internal/plugin"
)

// Host serves a set of in-process plugins to remote gateways over MCP. It
// runs its own plugin manager over its own configuration document and exposes
// one tool per hook point plus the configuration introspection tools. Plugin
// failures and timeouts travel in the response envelope; a tool call only
// fails at the transport layer when the request itself is malformed beyond
// recovery.
type Host struct {
	cf         *plugin.ConfigFile
	manager    *plugin.Manager
	server     *mcp.Server
	logger     *slog.Logger
	apiKeyHash string
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host's logger.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *Host) { h.logger = logger }
}

// WithAPIKeyHash requires the given Argon2id (or sha256) hash to match the
// X-Toolgate-Api-Key header on HTTP transports. Stdio transports ignore it.
func WithAPIKeyHash(hash string) HostOption {
	return func(h *Host) { h.apiKeyHash = hash }
}

// NewHost creates a plugin host for the given configuration document.
func NewHost(cf *plugin.ConfigFile, opts ...HostOption) *Host {
	h := &Host{
		cf:     cf,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.manager = plugin.NewManager(cf, plugin.WithLogger(h.logger))
	return h
}

// Initialize loads the hosted plugins and builds the MCP server surface.
func (h *Host) Initialize(ctx context.Context) error {
	if err := h.manager.Initialize(ctx); err != nil {
		return err
	}
	h.server = h.buildServer()
	h.logger.Info("plugin host initialized", "plugins", h.manager.PluginCount())
	return nil
}

// Shutdown releases the hosted plugins.
func (h *Host) Shutdown(ctx context.Context) error {
	return h.manager.Shutdown(ctx)
}

// Run serves the host over stdio until ctx is cancelled or the peer
// disconnects.
func (h *Host) Run(ctx context.Context) error {
	if h.server == nil {
		return errors.New("host not initialized")
	}
	return h.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns the streamable HTTP surface of the host, guarded by
// API-key authentication when a key hash is configured.
func (h *Host) HTTPHandler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return h.server
	}, nil)
	if h.apiKeyHash == "" {
		return streamable
	}
	return requireAPIKey(h.apiKeyHash, streamable)
}

func (h *Host) buildServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "toolgate-plugin-host",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        toolGetPluginConfigs,
		Description: "List the configuration of every plugin this host serves.",
	}, h.handleGetConfigs)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        toolGetPluginConfig,
		Description: "Get the configuration of one plugin by name.",
	}, h.handleGetConfig)

	addHookTool(h, srv, plugin.HookPromptPreFetch,
		func(ctx context.Context, p plugin.Plugin, payload *plugin.PromptPrePayload, pctx *plugin.Context) (*plugin.PromptPreResult, error) {
			f, ok := p.(plugin.PromptPreFetcher)
			if !ok {
				return nil, errHookNotImplemented(p, plugin.HookPromptPreFetch)
			}
			return f.PromptPreFetch(ctx, payload, pctx)
		})
	addHookTool(h, srv, plugin.HookPromptPostFetch,
		func(ctx context.Context, p plugin.Plugin, payload *plugin.PromptPostPayload, pctx *plugin.Context) (*plugin.PromptPostResult, error) {
			f, ok := p.(plugin.PromptPostFetcher)
			if !ok {
				return nil, errHookNotImplemented(p, plugin.HookPromptPostFetch)
			}
			return f.PromptPostFetch(ctx, payload, pctx)
		})
	addHookTool(h, srv, plugin.HookToolPreInvoke,
		func(ctx context.Context, p plugin.Plugin, payload *plugin.ToolPrePayload, pctx *plugin.Context) (*plugin.ToolPreResult, error) {
			f, ok := p.(plugin.ToolPreInvoker)
			if !ok {
				return nil, errHookNotImplemented(p, plugin.HookToolPreInvoke)
			}
			return f.ToolPreInvoke(ctx, payload, pctx)
		})
	addHookTool(h, srv, plugin.HookToolPostInvoke,
		func(ctx context.Context, p plugin.Plugin, payload *plugin.ToolPostPayload, pctx *plugin.Context) (*plugin.ToolPostResult, error) {
			f, ok := p.(plugin.ToolPostInvoker)
			if !ok {
				return nil, errHookNotImplemented(p, plugin.HookToolPostInvoke)
			}
			return f.ToolPostInvoke(ctx, payload, pctx)
		})
	addHookTool(h, srv, plugin.HookResourcePreFetch,
		func(ctx context.Context, p plugin.Plugin, payload *plugin.ResourcePrePayload, pctx *plugin.Context) (*plugin.ResourcePreResult, error) {
			f, ok := p.(plugin.ResourcePreFetcher)
			if !ok {
				return nil, errHookNotImplemented(p, plugin.HookResourcePreFetch)
			}
			return f.ResourcePreFetch(ctx, payload, pctx)
		})
	addHookTool(h, srv, plugin.HookResourcePostFetch,
		func(ctx context.Context, p plugin.Plugin, payload *plugin.ResourcePostPayload, pctx *plugin.Context) (*plugin.ResourcePostResult, error) {
			f, ok := p.(plugin.ResourcePostFetcher)
			if !ok {
				return nil, errHookNotImplemented(p, plugin.HookResourcePostFetch)
			}
			return f.ResourcePostFetch(ctx, payload, pctx)
		})

	return srv
}

type getConfigsInput struct{}

type getConfigsOutput struct {
	Configs []plugin.Config `json:"configs"`
}

func (h *Host) handleGetConfigs(ctx context.Context, req *mcp.CallToolRequest, in getConfigsInput) (*mcp.CallToolResult, getConfigsOutput, error) {
	return nil, getConfigsOutput{Configs: h.cf.Plugins}, nil
}

type getConfigInput struct {
	Name string `json:"name" jsonschema:"Plugin name"`
}

type getConfigOutput struct {
	Config *plugin.Config `json:"config,omitempty"`
}

func (h *Host) handleGetConfig(ctx context.Context, req *mcp.CallToolRequest, in getConfigInput) (*mcp.CallToolResult, getConfigOutput, error) {
	pc := h.cf.PluginNamed(in.Name)
	if pc == nil {
		return nil, getConfigOutput{}, fmt.Errorf("no plugin named %q", in.Name)
	}
	return nil, getConfigOutput{Config: pc}, nil
}

// hookInput is the wire shape of a hook tool call.
type hookInput[T plugin.Payload] struct {
	PluginName string          `json:"plugin_name" jsonschema:"Name of the hosted plugin to invoke"`
	Payload    T               `json:"payload" jsonschema:"Hook payload"`
	Context    *plugin.Context `json:"context,omitempty" jsonschema:"Plugin context from the calling gateway"`
}

// hookBody constrains host dispatch to pointer payloads, matching the
// manager's dispatch constraint.
type hookBody interface {
	plugin.Payload
	comparable
}

// addHookTool registers the tool for one hook point. The handler resolves the
// named plugin, bounds the invocation with the plugin's timeout, and packs
// the outcome into the response envelope.
func addHookTool[T hookBody](h *Host, srv *mcp.Server, hook plugin.HookType,
	call func(context.Context, plugin.Plugin, T, *plugin.Context) (*plugin.Result[T], error),
) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        string(hook),
		Description: fmt.Sprintf("Invoke the %s hook of a hosted plugin.", hook),
	}, func(ctx context.Context, req *mcp.CallToolRequest, in hookInput[T]) (*mcp.CallToolResult, hookEnvelope[T], error) {
		var zero T
		if in.Payload == zero {
			return nil, hookEnvelope[T]{Error: &plugin.Error{
				Message:    "payload is required",
				PluginName: in.PluginName,
			}}, nil
		}
		p := h.manager.Plugin(in.PluginName)
		if p == nil {
			return nil, hookEnvelope[T]{Error: &plugin.Error{
				Message:    fmt.Sprintf("unknown plugin %q", in.PluginName),
				PluginName: in.PluginName,
			}}, nil
		}

		pctx := in.Context
		if pctx == nil {
			pctx = plugin.NewContext(plugin.NewGlobalContext())
		}

		res, err := runBounded(ctx, h.timeoutFor(p), in.PluginName, func(cctx context.Context) (*plugin.Result[T], error) {
			return call(cctx, p, in.Payload, pctx)
		})
		if err != nil {
			h.logger.Error("hosted plugin hook failed",
				"plugin", in.PluginName, "hook", hook, "error", err)
			return nil, hookEnvelope[T]{Error: asPluginError(err, in.PluginName)}, nil
		}
		if res == nil {
			res = plugin.ContinueResult[T]()
		}
		return nil, hookEnvelope[T]{Result: res, Context: pctx}, nil
	})
}

// timeoutFor resolves the invocation bound for one hosted plugin.
func (h *Host) timeoutFor(p plugin.Plugin) time.Duration {
	if c, ok := p.(interface{ Config() plugin.Config }); ok {
		cfg := c.Config()
		if t := cfg.Timeout(); t > 0 {
			return t
		}
	}
	return h.cf.Settings.Timeout()
}

// runBounded runs one hook invocation under a deadline, in its own goroutine
// so an implementation that ignores its context cannot stall the host.
func runBounded[T hookBody](ctx context.Context, timeout time.Duration, pluginName string,
	fn func(context.Context) (*plugin.Result[T], error),
) (*plugin.Result[T], error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *plugin.Result[T]
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &plugin.Error{
					Message:    fmt.Sprintf("panic in hook: %v", r),
					Code:       plugin.ErrCodePanic,
					PluginName: pluginName,
				}}
			}
		}()
		res, err := fn(cctx)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &plugin.Error{
				Message:    fmt.Sprintf("hook timed out after %s", timeout),
				Code:       plugin.ErrCodeTimeout,
				PluginName: pluginName,
			}
		}
		return nil, ctx.Err()
	}
}

func errHookNotImplemented(p plugin.Plugin, hook plugin.HookType) error {
	return &plugin.Error{
		Message:    fmt.Sprintf("hook %s not implemented", hook),
		PluginName: p.Name(),
	}
}

// asPluginError normalizes a host-side failure into the envelope error shape.
func asPluginError(err error, pluginName string) *plugin.Error {
	var perr *plugin.Error
	if errors.As(err, &perr) {
		if perr.PluginName == "" {
			perr.PluginName = pluginName
		}
		return perr
	}
	return &plugin.Error{Message: err.Error(), PluginName: pluginName}
}
