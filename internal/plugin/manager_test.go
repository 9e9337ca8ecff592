package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// stubHooks lets each test override individual hook behaviors; unset hooks
// pass through.
type stubHooks struct {
	promptPre  func(context.Context, *PromptPrePayload, *Context) (*PromptPreResult, error)
	promptPost func(context.Context, *PromptPostPayload, *Context) (*PromptPostResult, error)
	toolPre    func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error)
	toolPost   func(context.Context, *ToolPostPayload, *Context) (*ToolPostResult, error)
}

type stubPlugin struct {
	Base
	hooks stubHooks
}

func (s *stubPlugin) PromptPreFetch(ctx context.Context, p *PromptPrePayload, c *Context) (*PromptPreResult, error) {
	if s.hooks.promptPre != nil {
		return s.hooks.promptPre(ctx, p, c)
	}
	return ContinueResult[*PromptPrePayload](), nil
}

func (s *stubPlugin) PromptPostFetch(ctx context.Context, p *PromptPostPayload, c *Context) (*PromptPostResult, error) {
	if s.hooks.promptPost != nil {
		return s.hooks.promptPost(ctx, p, c)
	}
	return ContinueResult[*PromptPostPayload](), nil
}

func (s *stubPlugin) ToolPreInvoke(ctx context.Context, p *ToolPrePayload, c *Context) (*ToolPreResult, error) {
	if s.hooks.toolPre != nil {
		return s.hooks.toolPre(ctx, p, c)
	}
	return ContinueResult[*ToolPrePayload](), nil
}

func (s *stubPlugin) ToolPostInvoke(ctx context.Context, p *ToolPostPayload, c *Context) (*ToolPostResult, error) {
	if s.hooks.toolPost != nil {
		return s.hooks.toolPost(ctx, p, c)
	}
	return ContinueResult[*ToolPostPayload](), nil
}

// stubFactories maps plugin names to their hook overrides for the "stub"
// kind registered below. Tests use globally unique plugin names.
var stubFactories sync.Map

func init() {
	RegisterKind("stub", func(cfg Config) (Plugin, error) {
		p := &stubPlugin{Base: NewBase(cfg)}
		if v, ok := stubFactories.Load(cfg.Name); ok {
			p.hooks = v.(stubHooks)
		}
		return p, nil
	})
}

func stubConfig(name string, priority int, hooks ...HookType) Config {
	if len(hooks) == 0 {
		hooks = []HookType{HookToolPreInvoke}
	}
	return Config{Name: name, Kind: "stub", Priority: priority, Hooks: hooks}
}

func newTestManager(t *testing.T, cf *ConfigFile, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(cf, opts...)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return m
}

func testGlobal() *GlobalContext {
	return &GlobalContext{RequestID: "req-1", ServerID: "srv-1", TenantID: "t-1", User: "alice"}
}

func TestManagerDispatchNoPlugins(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &ConfigFile{})
	res, contexts, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	if !res.ContinueProcessing {
		t.Error("ContinueProcessing = false, want true")
	}
	if res.ModifiedPayload != nil {
		t.Errorf("ModifiedPayload = %+v, want nil", res.ModifiedPayload)
	}
	if len(contexts) != 0 {
		t.Errorf("contexts has %d entries, want 0", len(contexts))
	}
}

func TestManagerDispatchRequiresInitialize(t *testing.T) {
	t.Parallel()

	m := NewManager(&ConfigFile{})
	_, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if err == nil {
		t.Fatal("expected error before Initialize")
	}
}

func TestManagerDispatchRequiresRequestID(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &ConfigFile{})
	if _, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, &GlobalContext{}, nil); err == nil {
		t.Error("expected error for empty request id")
	}
	if _, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, nil, nil); err == nil {
		t.Error("expected error for nil global context")
	}
}

func TestManagerDispatchOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	record := func(name string) stubHooks {
		return stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return ContinueResult[*ToolPrePayload](), nil
		}}
	}
	// Same priority for b and c checks that declaration order breaks ties.
	stubFactories.Store("order-a", record("order-a"))
	stubFactories.Store("order-b", record("order-b"))
	stubFactories.Store("order-c", record("order-c"))

	m := newTestManager(t, &ConfigFile{Plugins: []Config{
		stubConfig("order-b", 50),
		stubConfig("order-c", 50),
		stubConfig("order-a", 10),
	}})

	if _, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil); err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	want := []string{"order-a", "order-b", "order-c"}
	if len(order) != len(want) {
		t.Fatalf("invoked %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestManagerDispatchChainsModifiedPayload(t *testing.T) {
	t.Parallel()

	stubFactories.Store("chain-first", stubHooks{toolPre: func(_ context.Context, p *ToolPrePayload, _ *Context) (*ToolPreResult, error) {
		return ModifyResult(&ToolPrePayload{Name: p.Name, Args: map[string]any{"step": "first"}}), nil
	}})
	stubFactories.Store("chain-second", stubHooks{toolPre: func(_ context.Context, p *ToolPrePayload, _ *Context) (*ToolPreResult, error) {
		// Sees the first plugin's rewrite, not the caller's original.
		if p.Args["step"] != "first" {
			return nil, fmt.Errorf("got payload args %v, want first plugin's rewrite", p.Args)
		}
		return ModifyResult(&ToolPrePayload{Name: p.Name, Args: map[string]any{"step": "second"}}), nil
	}})

	m := newTestManager(t, &ConfigFile{Plugins: []Config{
		stubConfig("chain-first", 1),
		stubConfig("chain-second", 2),
	}})

	res, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	if res.ModifiedPayload == nil || res.ModifiedPayload.Args["step"] != "second" {
		t.Errorf("final payload = %+v, want second plugin's rewrite", res.ModifiedPayload)
	}
}

func TestManagerDispatchEnforceBlocks(t *testing.T) {
	t.Parallel()

	invoked := false
	stubFactories.Store("enforce-block", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		return BlockResult[*ToolPrePayload](&Violation{Reason: "not allowed", Code: "deny"}), nil
	}})
	stubFactories.Store("enforce-after", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		invoked = true
		return ContinueResult[*ToolPrePayload](), nil
	}})

	m := newTestManager(t, &ConfigFile{Plugins: []Config{
		stubConfig("enforce-block", 1),
		stubConfig("enforce-after", 2),
	}})

	res, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	if res.ContinueProcessing {
		t.Error("ContinueProcessing = true, want false")
	}
	if res.Violation == nil {
		t.Fatal("Violation = nil, want set")
	}
	if res.Violation.PluginName != "enforce-block" {
		t.Errorf("Violation.PluginName = %q, want %q", res.Violation.PluginName, "enforce-block")
	}
	if invoked {
		t.Error("plugin after the blocking one was invoked")
	}
}

func TestManagerDispatchPermissiveContinues(t *testing.T) {
	t.Parallel()

	invoked := false
	stubFactories.Store("permissive-block", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		return BlockResult[*ToolPrePayload](&Violation{Reason: "would block", Code: "deny"}), nil
	}})
	stubFactories.Store("permissive-after", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		invoked = true
		return ContinueResult[*ToolPrePayload](), nil
	}})

	cfgBlock := stubConfig("permissive-block", 1)
	cfgBlock.Mode = ModePermissive
	m := newTestManager(t, &ConfigFile{Plugins: []Config{
		cfgBlock,
		stubConfig("permissive-after", 2),
	}})

	res, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	if !res.ContinueProcessing {
		t.Error("ContinueProcessing = false, want true in permissive mode")
	}
	if !invoked {
		t.Error("plugin after the permissive violation was not invoked")
	}
}

func TestManagerDispatchMergesMetadata(t *testing.T) {
	t.Parallel()

	stubFactories.Store("meta-first", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		return &ToolPreResult{ContinueProcessing: true, Metadata: map[string]any{"shared": "first", "only_first": true}}, nil
	}})
	stubFactories.Store("meta-second", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		return &ToolPreResult{ContinueProcessing: true, Metadata: map[string]any{"shared": "second"}}, nil
	}})

	m := newTestManager(t, &ConfigFile{Plugins: []Config{
		stubConfig("meta-first", 1),
		stubConfig("meta-second", 2),
	}})

	res, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	if res.Metadata["shared"] != "second" {
		t.Errorf("Metadata[shared] = %v, want later plugin to win", res.Metadata["shared"])
	}
	if res.Metadata["only_first"] != true {
		t.Errorf("Metadata[only_first] = %v, want true", res.Metadata["only_first"])
	}
}

func TestManagerContextContinuity(t *testing.T) {
	t.Parallel()

	stubFactories.Store("ctx-pair", stubHooks{
		toolPre: func(_ context.Context, _ *ToolPrePayload, c *Context) (*ToolPreResult, error) {
			c.Set("started_at", "pre")
			return ContinueResult[*ToolPrePayload](), nil
		},
		toolPost: func(_ context.Context, _ *ToolPostPayload, c *Context) (*ToolPostResult, error) {
			if v, ok := c.Get("started_at"); !ok || v != "pre" {
				return nil, fmt.Errorf("pre hook state missing, got %v", v)
			}
			return ContinueResult[*ToolPostPayload](), nil
		},
	})

	m := newTestManager(t, &ConfigFile{Plugins: []Config{
		stubConfig("ctx-pair", 1, HookToolPreInvoke, HookToolPostInvoke),
	}})

	g := testGlobal()
	_, contexts, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, g, nil)
	if err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	if len(contexts) != 1 {
		t.Fatalf("contexts has %d entries, want 1", len(contexts))
	}
	_, after, err := m.ToolPostInvoke(context.Background(), &ToolPostPayload{Name: "calc"}, g, contexts)
	if err != nil {
		t.Fatalf("ToolPostInvoke() error = %v", err)
	}
	// Round-trip identity: the post dispatch hands back the very same
	// context instance, not a copy with equal state.
	for key, pre := range contexts {
		if post, ok := after[key]; !ok || post != pre {
			t.Errorf("context for %q = %p after post dispatch, want same instance %p", key, after[key], pre)
		}
	}
}

func TestManagerConditionFiltering(t *testing.T) {
	t.Parallel()

	var invoked []string
	var mu sync.Mutex
	record := func(name string) stubHooks {
		return stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
			mu.Lock()
			invoked = append(invoked, name)
			mu.Unlock()
			return ContinueResult[*ToolPrePayload](), nil
		}}
	}
	stubFactories.Store("cond-match", record("cond-match"))
	stubFactories.Store("cond-miss", record("cond-miss"))
	stubFactories.Store("cond-none", record("cond-none"))

	match := stubConfig("cond-match", 1)
	match.Conditions = []Condition{{Tools: []string{"calc"}}}
	miss := stubConfig("cond-miss", 2)
	miss.Conditions = []Condition{{Tools: []string{"other"}}}
	always := stubConfig("cond-none", 3)

	m := newTestManager(t, &ConfigFile{Plugins: []Config{match, miss, always}})

	if _, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil); err != nil {
		t.Fatalf("ToolPreInvoke() error = %v", err)
	}
	if len(invoked) != 2 || invoked[0] != "cond-match" || invoked[1] != "cond-none" {
		t.Errorf("invoked = %v, want [cond-match cond-none]", invoked)
	}
}

func TestManagerPostInvokeRedactionSkipsUnmatched(t *testing.T) {
	t.Parallel()

	stubFactories.Store("post-redact", stubHooks{toolPost: func(_ context.Context, p *ToolPostPayload, _ *Context) (*ToolPostResult, error) {
		redacted := *p
		redacted.Result = "balance: [masked]"
		res := ModifyResult(&redacted)
		res.Metadata = map[string]any{"redacted": true}
		return res, nil
	}})
	stubFactories.Store("post-other-tool", stubHooks{toolPost: func(context.Context, *ToolPostPayload, *Context) (*ToolPostResult, error) {
		res := ContinueResult[*ToolPostPayload]()
		res.Metadata = map[string]any{"unexpected": true}
		return res, nil
	}})

	redact := stubConfig("post-redact", 10, HookToolPostInvoke)
	other := stubConfig("post-other-tool", 20, HookToolPostInvoke)
	other.Conditions = []Condition{{Tools: []string{"weather"}}}

	m := newTestManager(t, &ConfigFile{Plugins: []Config{redact, other}})

	res, _, err := m.ToolPostInvoke(context.Background(), &ToolPostPayload{Name: "bank", Result: "balance: 1234"}, testGlobal(), nil)
	if err != nil {
		t.Fatalf("ToolPostInvoke() error = %v", err)
	}
	if res.ModifiedPayload == nil || res.ModifiedPayload.Result != "balance: [masked]" {
		t.Errorf("ModifiedPayload = %+v, want masked result", res.ModifiedPayload)
	}
	if res.Metadata["redacted"] != true {
		t.Errorf("Metadata[redacted] = %v, want true", res.Metadata["redacted"])
	}
	if _, ok := res.Metadata["unexpected"]; ok {
		t.Error("metadata from condition-filtered plugin present, want absent")
	}
}

func TestManagerDisabledPluginNeverLoads(t *testing.T) {
	t.Parallel()

	disabled := stubConfig("disabled-one", 1)
	disabled.Mode = ModeDisabled

	m := newTestManager(t, &ConfigFile{Plugins: []Config{disabled}})
	if m.PluginCount() != 0 {
		t.Errorf("PluginCount() = %d, want 0", m.PluginCount())
	}
}

func TestManagerErrorContained(t *testing.T) {
	t.Parallel()

	invoked := false
	stubFactories.Store("err-boom", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		return nil, errors.New("boom")
	}})
	stubFactories.Store("err-after", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		invoked = true
		return ContinueResult[*ToolPrePayload](), nil
	}})

	m := newTestManager(t, &ConfigFile{Plugins: []Config{
		stubConfig("err-boom", 1),
		stubConfig("err-after", 2),
	}})

	res, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if err != nil {
		t.Fatalf("ToolPreInvoke() error = %v, want contained", err)
	}
	if !res.ContinueProcessing {
		t.Error("ContinueProcessing = false, want true")
	}
	if !invoked {
		t.Error("plugin after the failing one was not invoked")
	}
}

func TestManagerFailOnPluginError(t *testing.T) {
	t.Parallel()

	stubFactories.Store("err-fatal", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		return nil, errors.New("boom")
	}})

	m := newTestManager(t, &ConfigFile{
		Plugins:  []Config{stubConfig("err-fatal", 1)},
		Settings: Settings{FailOnPluginError: true},
	})

	_, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if perr.PluginName != "err-fatal" {
		t.Errorf("PluginName = %q, want %q", perr.PluginName, "err-fatal")
	}
}

func TestManagerPanicContained(t *testing.T) {
	t.Parallel()

	stubFactories.Store("panic-one", stubHooks{toolPre: func(context.Context, *ToolPrePayload, *Context) (*ToolPreResult, error) {
		panic("kaboom")
	}})

	m := newTestManager(t, &ConfigFile{
		Plugins:  []Config{stubConfig("panic-one", 1)},
		Settings: Settings{FailOnPluginError: true},
	})

	_, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if perr.Code != ErrCodePanic {
		t.Errorf("Code = %q, want %q", perr.Code, ErrCodePanic)
	}
}

func TestManagerTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	stubFactories.Store("slow-one", stubHooks{toolPre: func(ctx context.Context, _ *ToolPrePayload, _ *Context) (*ToolPreResult, error) {
		// Ignores its deadline until released, like a stuck plugin.
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ContinueResult[*ToolPrePayload](), nil
	}})

	slow := stubConfig("slow-one", 1)
	slow.TimeoutSeconds = 1

	m := newTestManager(t, &ConfigFile{
		Plugins:  []Config{slow},
		Settings: Settings{FailOnPluginError: true},
	})

	start := time.Now()
	_, _, err := m.ToolPreInvoke(context.Background(), &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	elapsed := time.Since(start)
	close(release)

	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if perr.Code != ErrCodeTimeout {
		t.Errorf("Code = %q, want %q", perr.Code, ErrCodeTimeout)
	}
	if elapsed > 3*time.Second {
		t.Errorf("dispatch took %s, want bounded by the 1s plugin timeout", elapsed)
	}
	// Let the hook goroutine observe cancellation before goleak checks.
	time.Sleep(50 * time.Millisecond)
}

func TestManagerCallerCancellation(t *testing.T) {
	t.Parallel()

	stubFactories.Store("cancel-one", stubHooks{toolPre: func(ctx context.Context, _ *ToolPrePayload, _ *Context) (*ToolPreResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	m := newTestManager(t, &ConfigFile{Plugins: []Config{stubConfig("cancel-one", 1)}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, _, err := m.ToolPreInvoke(ctx, &ToolPrePayload{Name: "calc"}, testGlobal(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestManagerInitializeIdempotent(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, &ConfigFile{Plugins: []Config{stubConfig("idem-one", 1)}})
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if m.PluginCount() != 1 {
		t.Errorf("PluginCount() = %d, want 1", m.PluginCount())
	}
}

func TestManagerInitializeRejectsBadExpression(t *testing.T) {
	t.Parallel()

	cfg := stubConfig("expr-bad", 1)
	cfg.Conditions = []Condition{{Expression: "this is not CEL ((("}}

	m := NewManager(&ConfigFile{Plugins: []Config{cfg}})
	if err := m.Initialize(context.Background()); err == nil {
		t.Error("Initialize() = nil, want compile error")
	}
}

func TestManagerUnknownKind(t *testing.T) {
	t.Parallel()

	m := NewManager(&ConfigFile{Plugins: []Config{{Name: "nope", Kind: "no-such-kind", Hooks: []HookType{HookToolPreInvoke}}}})
	if err := m.Initialize(context.Background()); err == nil {
		t.Error("Initialize() = nil, want unknown kind error")
	}
}
