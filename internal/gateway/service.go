// Package gateway runs client-visible operations through the plugin
// interception chain: pre hook, provider call, post hook, with context
// identity preserved across the pair.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/toolgate/toolgate/internal/plugin"
)

// PromptProvider retrieves and renders prompt templates.
type PromptProvider interface {
	FetchPrompt(ctx context.Context, name string, args map[string]string) (*plugin.PromptResult, error)
}

// ToolProvider executes tool invocations.
type ToolProvider interface {
	InvokeTool(ctx context.Context, name string, args map[string]any, headers map[string]string) (any, error)
}

// ResourceProvider fetches resource content by URI.
type ResourceProvider interface {
	FetchResource(ctx context.Context, uri string) (*plugin.ResourceContent, error)
}

// BlockedError is returned when a plugin in enforce mode refuses an
// operation. The violation explains the refusal; the provider was never
// called for pre-hook blocks.
type BlockedError struct {
	Violation *plugin.Violation
}

func (e *BlockedError) Error() string {
	v := e.Violation
	if v == nil {
		return "request blocked by plugin"
	}
	return fmt.Sprintf("blocked by plugin %s: %s", v.PluginName, v.Reason)
}

// Service wires providers behind the plugin chain. Each operation dispatches
// the pre hook, consults the (possibly rewritten) payload, calls the
// provider, and dispatches the post hook over the provider's result.
type Service struct {
	manager   *plugin.Manager
	prompts   PromptProvider
	tools     ToolProvider
	resources ResourceProvider
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPromptProvider sets the prompt provider.
func WithPromptProvider(p PromptProvider) ServiceOption {
	return func(s *Service) { s.prompts = p }
}

// WithToolProvider sets the tool provider.
func WithToolProvider(p ToolProvider) ServiceOption {
	return func(s *Service) { s.tools = p }
}

// WithResourceProvider sets the resource provider.
func WithResourceProvider(p ResourceProvider) ServiceOption {
	return func(s *Service) { s.resources = p }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a gateway service over an initialized plugin manager.
func NewService(m *plugin.Manager, opts ...ServiceOption) *Service {
	s := &Service{
		manager: m,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchPrompt runs one prompt retrieval through the interception chain.
func (s *Service) FetchPrompt(ctx context.Context, g *plugin.GlobalContext, name string, args map[string]string) (*plugin.PromptResult, error) {
	if s.prompts == nil {
		return nil, fmt.Errorf("no prompt provider configured")
	}

	pre := &plugin.PromptPrePayload{Name: name, Args: args}
	preRes, contexts, err := s.manager.PromptPreFetch(ctx, pre, g, nil)
	if err != nil {
		return nil, err
	}
	if !preRes.ContinueProcessing {
		return nil, &BlockedError{Violation: preRes.Violation}
	}
	if preRes.ModifiedPayload != nil {
		pre = preRes.ModifiedPayload
	}

	result, err := s.prompts.FetchPrompt(ctx, pre.Name, pre.Args)
	if err != nil {
		return nil, fmt.Errorf("fetch prompt %q: %w", pre.Name, err)
	}

	post := &plugin.PromptPostPayload{Name: pre.Name, Result: result}
	postRes, _, err := s.manager.PromptPostFetch(ctx, post, g, contexts)
	if err != nil {
		return nil, err
	}
	if !postRes.ContinueProcessing {
		return nil, &BlockedError{Violation: postRes.Violation}
	}
	if postRes.ModifiedPayload != nil {
		post = postRes.ModifiedPayload
	}
	return post.Result, nil
}

// InvokeTool runs one tool invocation through the interception chain.
func (s *Service) InvokeTool(ctx context.Context, g *plugin.GlobalContext, name string, args map[string]any, headers map[string]string) (any, error) {
	if s.tools == nil {
		return nil, fmt.Errorf("no tool provider configured")
	}

	pre := &plugin.ToolPrePayload{Name: name, Args: args, Headers: headers}
	preRes, contexts, err := s.manager.ToolPreInvoke(ctx, pre, g, nil)
	if err != nil {
		return nil, err
	}
	if !preRes.ContinueProcessing {
		return nil, &BlockedError{Violation: preRes.Violation}
	}
	if preRes.ModifiedPayload != nil {
		pre = preRes.ModifiedPayload
	}

	result, err := s.tools.InvokeTool(ctx, pre.Name, pre.Args, pre.Headers)
	if err != nil {
		return nil, fmt.Errorf("invoke tool %q: %w", pre.Name, err)
	}

	post := &plugin.ToolPostPayload{Name: pre.Name, Result: result}
	postRes, _, err := s.manager.ToolPostInvoke(ctx, post, g, contexts)
	if err != nil {
		return nil, err
	}
	if !postRes.ContinueProcessing {
		return nil, &BlockedError{Violation: postRes.Violation}
	}
	if postRes.ModifiedPayload != nil {
		post = postRes.ModifiedPayload
	}
	return post.Result, nil
}

// FetchResource runs one resource fetch through the interception chain.
func (s *Service) FetchResource(ctx context.Context, g *plugin.GlobalContext, uri string) (*plugin.ResourceContent, error) {
	if s.resources == nil {
		return nil, fmt.Errorf("no resource provider configured")
	}

	pre := &plugin.ResourcePrePayload{URI: uri}
	preRes, contexts, err := s.manager.ResourcePreFetch(ctx, pre, g, nil)
	if err != nil {
		return nil, err
	}
	if !preRes.ContinueProcessing {
		return nil, &BlockedError{Violation: preRes.Violation}
	}
	if preRes.ModifiedPayload != nil {
		pre = preRes.ModifiedPayload
	}

	content, err := s.resources.FetchResource(ctx, pre.URI)
	if err != nil {
		return nil, fmt.Errorf("fetch resource %q: %w", pre.URI, err)
	}

	post := &plugin.ResourcePostPayload{URI: pre.URI, Content: content}
	postRes, _, err := s.manager.ResourcePostFetch(ctx, post, g, contexts)
	if err != nil {
		return nil, err
	}
	if !postRes.ContinueProcessing {
		return nil, &BlockedError{Violation: postRes.Violation}
	}
	if postRes.ModifiedPayload != nil {
		post = postRes.ModifiedPayload
	}
	return post.Content, nil
}
