package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/toolgate/toolgate/internal/plugin"
	_ "github.com/toolgate/toolgate/internal/plugin/plugins/builtins"
)

type fakeProviders struct {
	promptResult *plugin.PromptResult
	toolResult   any
	resource     *plugin.ResourceContent
	err          error

	gotPromptName string
	gotPromptArgs map[string]string
	gotToolName   string
	gotToolArgs   map[string]any
	gotHeaders    map[string]string
	gotURI        string
}

func (f *fakeProviders) FetchPrompt(_ context.Context, name string, args map[string]string) (*plugin.PromptResult, error) {
	f.gotPromptName, f.gotPromptArgs = name, args
	return f.promptResult, f.err
}

func (f *fakeProviders) InvokeTool(_ context.Context, name string, args map[string]any, headers map[string]string) (any, error) {
	f.gotToolName, f.gotToolArgs, f.gotHeaders = name, args, headers
	return f.toolResult, f.err
}

func (f *fakeProviders) FetchResource(_ context.Context, uri string) (*plugin.ResourceContent, error) {
	f.gotURI = uri
	return f.resource, f.err
}

func newService(t *testing.T, cf *plugin.ConfigFile, fake *fakeProviders) *Service {
	t.Helper()
	m := plugin.NewManager(cf)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return NewService(m,
		WithPromptProvider(fake),
		WithToolProvider(fake),
		WithResourceProvider(fake),
	)
}

func testGlobal() *plugin.GlobalContext {
	return &plugin.GlobalContext{RequestID: "req-1", User: "alice"}
}

func TestInvokeToolPassThrough(t *testing.T) {
	t.Parallel()

	fake := &fakeProviders{toolResult: map[string]any{"sum": float64(3)}}
	svc := newService(t, &plugin.ConfigFile{}, fake)

	res, err := svc.InvokeTool(context.Background(), testGlobal(), "calc", map[string]any{"x": 1}, nil)
	if err != nil {
		t.Fatalf("InvokeTool() error = %v", err)
	}
	if fake.gotToolName != "calc" {
		t.Errorf("provider saw tool %q, want %q", fake.gotToolName, "calc")
	}
	if res.(map[string]any)["sum"] != float64(3) {
		t.Errorf("result = %v, want provider result", res)
	}
}

func TestInvokeToolRewriteReachesProvider(t *testing.T) {
	t.Parallel()

	cf := &plugin.ConfigFile{Plugins: []plugin.Config{
		{
			Name:     "redact",
			Kind:     "regex_filter",
			Hooks:    []plugin.HookType{plugin.HookToolPreInvoke},
			Priority: 10,
			Config: map[string]any{
				"rules": []any{map[string]any{"search": "secret", "replace": "[x]"}},
			},
		},
		{
			Name:     "inject",
			Kind:     "header_inject",
			Hooks:    []plugin.HookType{plugin.HookToolPreInvoke},
			Priority: 20,
			Config: map[string]any{
				"headers": map[string]string{"X-Env": "prod"},
			},
		},
	}}
	fake := &fakeProviders{toolResult: "ok"}
	svc := newService(t, cf, fake)

	if _, err := svc.InvokeTool(context.Background(), testGlobal(), "calc", map[string]any{"q": "the secret word"}, nil); err != nil {
		t.Fatalf("InvokeTool() error = %v", err)
	}
	if got, want := fake.gotToolArgs["q"], "the [x] word"; got != want {
		t.Errorf("provider saw args[q] = %q, want rewrite %q", got, want)
	}
	if got := fake.gotHeaders["X-Env"]; got != "prod" {
		t.Errorf("provider saw X-Env = %q, want injected %q", got, "prod")
	}
}

func TestInvokeToolPostRewrite(t *testing.T) {
	t.Parallel()

	cf := &plugin.ConfigFile{Plugins: []plugin.Config{{
		Name:  "redact",
		Kind:  "regex_filter",
		Hooks: []plugin.HookType{plugin.HookToolPostInvoke},
		Config: map[string]any{
			"rules": []any{map[string]any{"search": "token-[a-z0-9]+", "replace": "[redacted]"}},
		},
	}}}
	fake := &fakeProviders{toolResult: "auth token-abc123"}
	svc := newService(t, cf, fake)

	res, err := svc.InvokeTool(context.Background(), testGlobal(), "fetch", nil, nil)
	if err != nil {
		t.Fatalf("InvokeTool() error = %v", err)
	}
	if res != "auth [redacted]" {
		t.Errorf("result = %q, want redacted provider output", res)
	}
}

func TestFetchPromptBlocked(t *testing.T) {
	t.Parallel()

	cf := &plugin.ConfigFile{Plugins: []plugin.Config{{
		Name:   "deny",
		Kind:   "deny_filter",
		Hooks:  []plugin.HookType{plugin.HookPromptPreFetch},
		Config: map[string]any{"words": []any{"forbidden"}},
	}}}
	fake := &fakeProviders{}
	svc := newService(t, cf, fake)

	_, err := svc.FetchPrompt(context.Background(), testGlobal(), "greet", map[string]string{"topic": "a forbidden topic"})
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("error = %v, want *BlockedError", err)
	}
	if blocked.Violation == nil || blocked.Violation.PluginName != "deny" {
		t.Errorf("Violation = %+v, want raised by deny", blocked.Violation)
	}
	if fake.gotPromptName != "" {
		t.Error("provider was called for a blocked request")
	}
}

func TestFetchPrompt(t *testing.T) {
	t.Parallel()

	fake := &fakeProviders{promptResult: &plugin.PromptResult{
		Messages: []plugin.Message{{Role: "user", Content: "hi"}},
	}}
	svc := newService(t, &plugin.ConfigFile{}, fake)

	res, err := svc.FetchPrompt(context.Background(), testGlobal(), "greet", map[string]string{"topic": "go"})
	if err != nil {
		t.Fatalf("FetchPrompt() error = %v", err)
	}
	if fake.gotPromptArgs["topic"] != "go" {
		t.Errorf("provider saw args = %v, want topic=go", fake.gotPromptArgs)
	}
	if len(res.Messages) != 1 || res.Messages[0].Content != "hi" {
		t.Errorf("result = %+v, want provider prompt", res)
	}
}

func TestFetchResource(t *testing.T) {
	t.Parallel()

	fake := &fakeProviders{resource: &plugin.ResourceContent{URI: "file:///motd", Text: "hello"}}
	svc := newService(t, &plugin.ConfigFile{}, fake)

	res, err := svc.FetchResource(context.Background(), testGlobal(), "file:///motd")
	if err != nil {
		t.Fatalf("FetchResource() error = %v", err)
	}
	if fake.gotURI != "file:///motd" {
		t.Errorf("provider saw uri = %q", fake.gotURI)
	}
	if res.Text != "hello" {
		t.Errorf("Text = %q, want %q", res.Text, "hello")
	}
}

func TestProviderErrorWrapped(t *testing.T) {
	t.Parallel()

	fake := &fakeProviders{err: errors.New("upstream unreachable")}
	svc := newService(t, &plugin.ConfigFile{}, fake)

	if _, err := svc.InvokeTool(context.Background(), testGlobal(), "calc", nil, nil); err == nil {
		t.Error("InvokeTool() = nil, want provider error")
	}
}

func TestMissingProvider(t *testing.T) {
	t.Parallel()

	m := plugin.NewManager(&plugin.ConfigFile{})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	svc := NewService(m)

	if _, err := svc.InvokeTool(context.Background(), testGlobal(), "calc", nil, nil); err == nil {
		t.Error("InvokeTool() without provider = nil, want error")
	}
	if _, err := svc.FetchPrompt(context.Background(), testGlobal(), "greet", nil); err == nil {
		t.Error("FetchPrompt() without provider = nil, want error")
	}
	if _, err := svc.FetchResource(context.Background(), testGlobal(), "file:///x"); err == nil {
		t.Error("FetchResource() without provider = nil, want error")
	}
}
