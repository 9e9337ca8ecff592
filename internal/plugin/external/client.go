// Package external connects the plugin framework to plugins that run out of
// process. A remote plugin host is an MCP server exposing one tool per hook
// point plus configuration introspection tools; the Client below is the
// in-process proxy that forwards hook invocations to it. The package also
// provides the Host, the server side used by standalone plugin processes.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolgate/toolgate/internal/plugin"
)

// Tool names a plugin host must expose beyond the per-hook tools.
const (
	toolGetPluginConfigs = "get_plugin_configs"
	toolGetPluginConfig  = "get_plugin_config"
)

// APIKeyHeader authenticates requests to an HTTP plugin host.
const APIKeyHeader = "X-Toolgate-Api-Key"

const (
	connectAttempts = 3
	connectBackoff  = time.Second
)

func init() {
	plugin.RegisterKind(plugin.ExternalKind, func(cfg plugin.Config) (plugin.Plugin, error) {
		return NewClient(cfg, slog.Default())
	})
}

// Client proxies hook invocations to a remote plugin host over MCP. It
// implements every hook interface; the registry only wires the hooks the
// merged configuration declares.
type Client struct {
	logger *slog.Logger

	mu      sync.Mutex
	cfg     plugin.Config
	session *mcp.ClientSession
}

// NewClient creates a proxy for one external plugin entry. The connection is
// established in Initialize.
func NewClient(cfg plugin.Config, logger *slog.Logger) (*Client, error) {
	if cfg.MCP == nil {
		return nil, fmt.Errorf("external plugin %q: missing mcp section", cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}, nil
}

// Name implements plugin.Plugin.
func (c *Client) Name() string { return c.config().Name }

// Priority implements plugin.Plugin.
func (c *Client) Priority() int { return c.config().Priority }

// Mode implements plugin.Plugin.
func (c *Client) Mode() plugin.Mode {
	if m := c.config().Mode; m != "" {
		return m
	}
	return plugin.ModeEnforce
}

// Hooks implements plugin.Plugin. After Initialize this reflects the merged
// local and remote configuration.
func (c *Client) Hooks() []plugin.HookType { return c.config().Hooks }

// Conditions implements plugin.Plugin.
func (c *Client) Conditions() []plugin.Condition { return c.config().Conditions }

// Config returns the merged configuration entry.
func (c *Client) Config() plugin.Config { return c.config() }

func (c *Client) config() plugin.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Initialize connects to the remote host, retrieves the plugin's remote
// configuration, and overlays the local entry on top of it. Connection
// failures are retried with backoff before giving up; an unreachable host is
// a fatal startup error, never a silently missing plugin.
func (c *Client) Initialize(ctx context.Context) error {
	cfg := c.config()

	var session *mcp.ClientSession
	var err error
	backoff := connectBackoff
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		session, err = c.connect(ctx, cfg)
		if err == nil {
			break
		}
		c.logger.Warn("external plugin connect failed",
			"plugin", cfg.Name, "attempt", attempt, "error", err)
		if attempt == connectAttempts {
			return fmt.Errorf("connect external plugin %q: %w", cfg.Name, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	remote, err := fetchConfig(ctx, session, cfg.Name)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("fetch remote config for plugin %q: %w", cfg.Name, err)
	}

	c.mu.Lock()
	c.cfg = mergeConfig(cfg, *remote)
	c.session = session
	c.mu.Unlock()

	c.logger.Info("external plugin connected",
		"plugin", cfg.Name, "proto", cfg.MCP.Proto, "hooks", c.Hooks())
	return nil
}

// connect establishes one MCP session per the configured transport.
func (c *Client) connect(ctx context.Context, cfg plugin.Config) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "toolgate",
		Version: "1.0.0",
	}, nil)

	var transport mcp.Transport
	switch cfg.MCP.Proto {
	case "stdio":
		// A fresh command per attempt; a dead subprocess cannot be redialed.
		cmd := exec.Command(cfg.MCP.Command, cfg.MCP.Args...)
		transport = &mcp.CommandTransport{Command: cmd}
	case "streamablehttp":
		httpClient := &http.Client{}
		if cfg.MCP.APIKey != "" {
			httpClient.Transport = &apiKeyRoundTripper{
				key:  cfg.MCP.APIKey,
				base: http.DefaultTransport,
			}
		}
		transport = &mcp.StreamableClientTransport{
			Endpoint:   cfg.MCP.URL,
			HTTPClient: httpClient,
		}
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.MCP.Proto)
	}

	return client.Connect(ctx, transport, nil)
}

// Shutdown closes the session. Safe to call repeatedly.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

func (c *Client) currentSession() *mcp.ClientSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// PromptPreFetch implements plugin.PromptPreFetcher.
func (c *Client) PromptPreFetch(ctx context.Context, payload *plugin.PromptPrePayload, pctx *plugin.Context) (*plugin.PromptPreResult, error) {
	return invokeHook(ctx, c, plugin.HookPromptPreFetch, payload, pctx)
}

// PromptPostFetch implements plugin.PromptPostFetcher.
func (c *Client) PromptPostFetch(ctx context.Context, payload *plugin.PromptPostPayload, pctx *plugin.Context) (*plugin.PromptPostResult, error) {
	return invokeHook(ctx, c, plugin.HookPromptPostFetch, payload, pctx)
}

// ToolPreInvoke implements plugin.ToolPreInvoker.
func (c *Client) ToolPreInvoke(ctx context.Context, payload *plugin.ToolPrePayload, pctx *plugin.Context) (*plugin.ToolPreResult, error) {
	return invokeHook(ctx, c, plugin.HookToolPreInvoke, payload, pctx)
}

// ToolPostInvoke implements plugin.ToolPostInvoker.
func (c *Client) ToolPostInvoke(ctx context.Context, payload *plugin.ToolPostPayload, pctx *plugin.Context) (*plugin.ToolPostResult, error) {
	return invokeHook(ctx, c, plugin.HookToolPostInvoke, payload, pctx)
}

// ResourcePreFetch implements plugin.ResourcePreFetcher.
func (c *Client) ResourcePreFetch(ctx context.Context, payload *plugin.ResourcePrePayload, pctx *plugin.Context) (*plugin.ResourcePreResult, error) {
	return invokeHook(ctx, c, plugin.HookResourcePreFetch, payload, pctx)
}

// ResourcePostFetch implements plugin.ResourcePostFetcher.
func (c *Client) ResourcePostFetch(ctx context.Context, payload *plugin.ResourcePostPayload, pctx *plugin.Context) (*plugin.ResourcePostResult, error) {
	return invokeHook(ctx, c, plugin.HookResourcePostFetch, payload, pctx)
}

// hookEnvelope is the wire shape of a hook tool's response: exactly one of
// Result or Error, plus the plugin's updated context.
type hookEnvelope[T plugin.Payload] struct {
	Result  *plugin.Result[T] `json:"result,omitempty"`
	Context *plugin.Context   `json:"context,omitempty"`
	Error   *plugin.Error     `json:"error,omitempty"`
}

// invokeHook forwards one hook invocation to the remote host. Failures at the
// transport layer and failures reported in the response envelope both surface
// as errors; the manager's per-plugin error containment handles either.
func invokeHook[T plugin.Payload](ctx context.Context, c *Client, hook plugin.HookType, payload T, pctx *plugin.Context) (*plugin.Result[T], error) {
	session := c.currentSession()
	if session == nil {
		return nil, &plugin.Error{Message: "not connected", PluginName: c.Name()}
	}

	args := map[string]any{
		"plugin_name": c.Name(),
		"payload":     payload,
	}
	if pctx != nil {
		args["context"] = pctx
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      string(hook),
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", hook, err)
	}

	text := resultText(res)
	if res.IsError {
		return nil, &plugin.Error{Message: text, PluginName: c.Name()}
	}

	var env hookEnvelope[T]
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", hook, err)
	}
	if env.Error != nil {
		if env.Error.PluginName == "" {
			env.Error.PluginName = c.Name()
		}
		return nil, env.Error
	}

	// Fold remote context changes back into the local handle so state
	// written by the host's pre hook survives to the post hook.
	if env.Context != nil && pctx != nil {
		for k, v := range env.Context.State {
			pctx.Set(k, v)
		}
		if len(env.Context.Metadata) > 0 {
			if pctx.Metadata == nil {
				pctx.Metadata = make(map[string]any, len(env.Context.Metadata))
			}
			for k, v := range env.Context.Metadata {
				pctx.Metadata[k] = v
			}
		}
	}

	if env.Result == nil {
		return plugin.ContinueResult[T](), nil
	}
	return env.Result, nil
}

// FetchAllConfigs lists every plugin configuration the remote host serves.
// Used by operator tooling, not by dispatch.
func (c *Client) FetchAllConfigs(ctx context.Context) ([]plugin.Config, error) {
	session := c.currentSession()
	if session == nil {
		return nil, errors.New("not connected")
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolGetPluginConfigs,
		Arguments: map[string]any{},
	})
	if err != nil {
		return nil, err
	}
	text := resultText(res)
	if res.IsError {
		return nil, fmt.Errorf("%s: %s", toolGetPluginConfigs, text)
	}
	var out struct {
		Configs []plugin.Config `json:"configs"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", toolGetPluginConfigs, err)
	}
	return out.Configs, nil
}

// fetchConfig retrieves the remote host's configuration entry for one plugin.
func fetchConfig(ctx context.Context, session *mcp.ClientSession, name string) (*plugin.Config, error) {
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolGetPluginConfig,
		Arguments: map[string]any{"name": name},
	})
	if err != nil {
		return nil, err
	}
	text := resultText(res)
	if res.IsError {
		return nil, errors.New(text)
	}
	var out struct {
		Config *plugin.Config `json:"config"`
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", toolGetPluginConfig, err)
	}
	if out.Config == nil {
		return nil, fmt.Errorf("host serves no plugin named %q", name)
	}
	return out.Config, nil
}

// mergeConfig overlays the local gateway-side entry on the remote host's
// configuration. The remote entry is authoritative for what the plugin is
// (hooks, metadata, settings); the local entry overrides deployment policy
// where the operator set it explicitly.
func mergeConfig(local, remote plugin.Config) plugin.Config {
	merged := remote
	merged.Name = local.Name
	merged.Kind = local.Kind
	merged.MCP = local.MCP

	if len(local.Hooks) > 0 {
		merged.Hooks = local.Hooks
	}
	if local.Mode != "" {
		merged.Mode = local.Mode
	}
	if local.Priority != 0 {
		merged.Priority = local.Priority
	}
	if len(local.Conditions) > 0 {
		merged.Conditions = local.Conditions
	}
	if local.TimeoutSeconds != 0 {
		merged.TimeoutSeconds = local.TimeoutSeconds
	}
	if len(local.Config) > 0 {
		// Copy before overlaying; the remote entry's map is not ours to edit.
		cfg := make(map[string]any, len(remote.Config)+len(local.Config))
		for k, v := range remote.Config {
			cfg[k] = v
		}
		for k, v := range local.Config {
			cfg[k] = v
		}
		merged.Config = cfg
	}
	return merged
}

// resultText concatenates the text content blocks of a tool result.
func resultText(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// apiKeyRoundTripper adds the host API key header to every request.
type apiKeyRoundTripper struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set(APIKeyHeader, t.key)
	return t.base.RoundTrip(clone)
}

var (
	_ plugin.Plugin             = (*Client)(nil)
	_ plugin.PromptPreFetcher   = (*Client)(nil)
	_ plugin.PromptPostFetcher  = (*Client)(nil)
	_ plugin.ToolPreInvoker     = (*Client)(nil)
	_ plugin.ToolPostInvoker    = (*Client)(nil)
	_ plugin.ResourcePreFetcher = (*Client)(nil)
	_ plugin.ResourcePostFetcher = (*Client)(nil)
)
