package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's spans.
const tracerName = "github.com/toolgate/toolgate/internal/plugin"

// Manager orchestrates the plugin lifecycle: it loads the configuration,
// instantiates and registers plugins, exposes one dispatch method per hook
// type, and shuts everything down. All manager state touched during dispatch
// is read-only after Initialize, so concurrent requests need no locking;
// only the per-request ContextTable is request-scoped.
type Manager struct {
	cfg       *ConfigFile
	settings  Settings
	loader    *Loader
	registry  *InstanceRegistry
	evaluator *ExprEvaluator
	logger    *slog.Logger
	metrics   *Metrics
	recorder  Recorder
	tracer    trace.Tracer

	mu          sync.Mutex
	initialized bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics enables Prometheus instrumentation of dispatch.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRecorder enables audit recording of violations and plugin errors.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a manager for the given configuration document.
// Call Initialize before dispatching.
func NewManager(cfg *ConfigFile, opts ...Option) *Manager {
	if cfg == nil {
		cfg = &ConfigFile{}
	}
	m := &Manager{
		cfg:      cfg,
		settings: cfg.Settings,
		registry: NewInstanceRegistry(),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loader = NewLoader(m.logger)
	return m
}

// Initialize compiles condition expressions, then instantiates and registers
// every plugin whose mode is not disabled. Any failure aborts startup: a
// partially-loaded plugin set would silently change policy enforcement.
// Initialize is idempotent.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	eval, err := NewExprEvaluator()
	if err != nil {
		return err
	}
	for i := range m.cfg.Plugins {
		for j := range m.cfg.Plugins[i].Conditions {
			expr := m.cfg.Plugins[i].Conditions[j].Expression
			if expr == "" {
				continue
			}
			if err := eval.Compile(expr); err != nil {
				return fmt.Errorf("plugin %q condition %d: %w", m.cfg.Plugins[i].Name, j, err)
			}
		}
	}
	m.evaluator = eval

	for i := range m.cfg.Plugins {
		pc := m.cfg.Plugins[i]
		if pc.Mode == ModeDisabled {
			m.logger.Info("plugin disabled, skipping", "plugin", pc.Name)
			continue
		}
		p, err := m.loader.Load(ctx, pc)
		if err != nil {
			m.shutdownLocked(ctx)
			return fmt.Errorf("load plugin %q: %w", pc.Name, err)
		}
		if err := m.registry.Register(p); err != nil {
			_ = p.Shutdown(ctx)
			m.shutdownLocked(ctx)
			return err
		}
	}

	m.initialized = true
	m.logger.Info("plugin manager initialized", "plugins", m.registry.Len())
	return nil
}

// Shutdown releases every plugin's resources in reverse registration order.
// Idempotent and safe to call on a manager that never initialized.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.shutdownLocked(ctx)
	m.initialized = false
	return err
}

func (m *Manager) shutdownLocked(ctx context.Context) error {
	var errs []error
	all := m.registry.All()
	for i := len(all) - 1; i >= 0; i-- {
		ref := all[i]
		if err := ref.Plugin().Shutdown(ctx); err != nil {
			m.logger.Error("plugin shutdown failed", "plugin", ref.Name(), "error", err)
			errs = append(errs, fmt.Errorf("shutdown %s: %w", ref.Name(), err))
		}
	}
	m.registry = NewInstanceRegistry()
	return errors.Join(errs...)
}

// Initialized reports whether Initialize has completed.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// PluginCount returns the number of loaded plugins.
func (m *Manager) PluginCount() int { return m.registry.Len() }

// Plugin returns the loaded plugin with the given name, or nil. Used by the
// external plugin host to route hook calls; not part of the hot dispatch
// path.
func (m *Manager) Plugin(name string) Plugin {
	ref := m.registry.Get(name)
	if ref == nil {
		return nil
	}
	return ref.Plugin()
}

// Config returns the configuration document the manager was built from.
func (m *Manager) Config() *ConfigFile { return m.cfg }

// Settings returns the manager-wide plugin settings.
func (m *Manager) Settings() Settings { return m.settings }

// timeoutFor returns the invocation bound for one plugin.
func (m *Manager) timeoutFor(cfg interface{ Timeout() time.Duration }) time.Duration {
	if t := cfg.Timeout(); t > 0 {
		return t
	}
	return m.settings.Timeout()
}

// PromptPreFetch dispatches the prompt_pre_fetch hook.
func (m *Manager) PromptPreFetch(ctx context.Context, payload *PromptPrePayload, g *GlobalContext, locals ContextTable) (*PromptPreResult, ContextTable, error) {
	return dispatch(ctx, m, HookPromptPreFetch, payload, g, locals,
		func(ctx context.Context, p Plugin, pl *PromptPrePayload, c *Context) (*PromptPreResult, error) {
			return p.(PromptPreFetcher).PromptPreFetch(ctx, pl, c)
		})
}

// PromptPostFetch dispatches the prompt_post_fetch hook.
func (m *Manager) PromptPostFetch(ctx context.Context, payload *PromptPostPayload, g *GlobalContext, locals ContextTable) (*PromptPostResult, ContextTable, error) {
	return dispatch(ctx, m, HookPromptPostFetch, payload, g, locals,
		func(ctx context.Context, p Plugin, pl *PromptPostPayload, c *Context) (*PromptPostResult, error) {
			return p.(PromptPostFetcher).PromptPostFetch(ctx, pl, c)
		})
}

// ToolPreInvoke dispatches the tool_pre_invoke hook.
func (m *Manager) ToolPreInvoke(ctx context.Context, payload *ToolPrePayload, g *GlobalContext, locals ContextTable) (*ToolPreResult, ContextTable, error) {
	return dispatch(ctx, m, HookToolPreInvoke, payload, g, locals,
		func(ctx context.Context, p Plugin, pl *ToolPrePayload, c *Context) (*ToolPreResult, error) {
			return p.(ToolPreInvoker).ToolPreInvoke(ctx, pl, c)
		})
}

// ToolPostInvoke dispatches the tool_post_invoke hook.
func (m *Manager) ToolPostInvoke(ctx context.Context, payload *ToolPostPayload, g *GlobalContext, locals ContextTable) (*ToolPostResult, ContextTable, error) {
	return dispatch(ctx, m, HookToolPostInvoke, payload, g, locals,
		func(ctx context.Context, p Plugin, pl *ToolPostPayload, c *Context) (*ToolPostResult, error) {
			return p.(ToolPostInvoker).ToolPostInvoke(ctx, pl, c)
		})
}

// ResourcePreFetch dispatches the resource_pre_fetch hook.
func (m *Manager) ResourcePreFetch(ctx context.Context, payload *ResourcePrePayload, g *GlobalContext, locals ContextTable) (*ResourcePreResult, ContextTable, error) {
	return dispatch(ctx, m, HookResourcePreFetch, payload, g, locals,
		func(ctx context.Context, p Plugin, pl *ResourcePrePayload, c *Context) (*ResourcePreResult, error) {
			return p.(ResourcePreFetcher).ResourcePreFetch(ctx, pl, c)
		})
}

// ResourcePostFetch dispatches the resource_post_fetch hook.
func (m *Manager) ResourcePostFetch(ctx context.Context, payload *ResourcePostPayload, g *GlobalContext, locals ContextTable) (*ResourcePostResult, ContextTable, error) {
	return dispatch(ctx, m, HookResourcePostFetch, payload, g, locals,
		func(ctx context.Context, p Plugin, pl *ResourcePostPayload, c *Context) (*ResourcePostResult, error) {
			return p.(ResourcePostFetcher).ResourcePostFetch(ctx, pl, c)
		})
}

// hookPayload constrains dispatch to pointer payload types so replacement
// payloads can be nil-checked with a plain comparison.
type hookPayload interface {
	Payload
	comparable
}

// dispatch runs one hook across its registered plugins: an explicit fold
// over the ordered list threading (payload, metadata, contexts), with
// short-circuiting on enforced violations. Every hook type goes through this
// same path; none is special-cased.
func dispatch[T hookPayload](
	ctx context.Context,
	m *Manager,
	hook HookType,
	payload T,
	g *GlobalContext,
	locals ContextTable,
	invoke func(context.Context, Plugin, T, *Context) (*Result[T], error),
) (*Result[T], ContextTable, error) {
	if !m.Initialized() {
		return nil, nil, errors.New("plugin manager not initialized")
	}
	if g == nil || g.RequestID == "" {
		return nil, nil, errors.New("global context with request id is required")
	}

	plugins := m.registry.PluginsForHook(hook)
	if len(plugins) == 0 {
		// Pass-through fast path: nothing registered for this hook.
		return &Result[T]{ContinueProcessing: true}, nil, nil
	}

	ctx, span := m.tracer.Start(ctx, "plugin.dispatch",
		trace.WithAttributes(
			attribute.String("hook", string(hook)),
			attribute.String("request_id", g.RequestID),
			attribute.Int("plugins", len(plugins)),
		))
	defer span.End()

	var zero T
	current := zero
	var combined map[string]any
	table := make(ContextTable)

	for _, ref := range plugins {
		if ref.Mode() == ModeDisabled {
			continue
		}
		effective := payload
		if current != zero {
			effective = current
		}
		if !payloadMatches(hook, effective, ref.Conditions(), g, m.evaluator) {
			continue
		}

		key := contextKey(g.RequestID, ref.UUID())
		pctx, ok := locals[key]
		if !ok {
			pctx = NewContext(g)
		}
		table[key] = pctx

		timeout := m.timeoutFor(configOf(ref.Plugin()))
		start := time.Now()
		res, err := invokeTimed(ctx, timeout, ref.Name(), func(cctx context.Context) (*Result[T], error) {
			return invoke(cctx, ref.Plugin(), effective, pctx)
		})
		if m.metrics != nil {
			m.metrics.InvocationTime.WithLabelValues(ref.Name(), string(hook)).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			// Caller cancellation is not a plugin failure; abandon dispatch.
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			perr := toPluginError(err, ref.Name())
			outcome := outcomeError
			if perr.Code == ErrCodeTimeout {
				outcome = outcomeTimeout
			}
			m.countInvocation(ref.Name(), hook, outcome)
			if m.metrics != nil {
				m.metrics.ErrorsTotal.WithLabelValues(ref.Name(), string(hook)).Inc()
			}
			m.record(ctx, AuditEvent{
				Time:        time.Now(),
				RequestID:   g.RequestID,
				Plugin:      ref.Name(),
				Hook:        hook,
				Kind:        AuditError,
				Mode:        ref.Mode(),
				Code:        perr.Code,
				Detail:      perr.Message,
				PayloadHash: payloadDigest(effective),
			})
			if m.settings.FailOnPluginError {
				m.logger.Error("plugin error blocks request", "plugin", ref.Name(), "hook", hook, "error", perr)
				return nil, nil, perr
			}
			m.logger.Error("plugin error ignored", "plugin", ref.Name(), "hook", hook, "error", perr)
			continue
		}
		if res == nil {
			res = &Result[T]{ContinueProcessing: true}
		}

		if len(res.Metadata) > 0 {
			if combined == nil {
				combined = make(map[string]any, len(res.Metadata))
			}
			for k, v := range res.Metadata {
				combined[k] = v
			}
		}
		if res.ModifiedPayload != zero {
			current = res.ModifiedPayload
		}

		if !res.ContinueProcessing {
			v := res.Violation
			if v == nil {
				v = &Violation{Reason: "Blocked by plugin"}
			}
			v.PluginName = ref.Name()
			m.countInvocation(ref.Name(), hook, outcomeViolation)
			if m.metrics != nil {
				m.metrics.ViolationsTotal.WithLabelValues(ref.Name(), string(hook), string(ref.Mode())).Inc()
			}
			m.record(ctx, AuditEvent{
				Time:        time.Now(),
				RequestID:   g.RequestID,
				Plugin:      ref.Name(),
				Hook:        hook,
				Kind:        AuditViolation,
				Mode:        ref.Mode(),
				Code:        v.Code,
				Detail:      v.Description,
				PayloadHash: payloadDigest(effective),
			})
			if ref.Mode() == ModeEnforce {
				span.SetAttributes(attribute.String("blocked_by", ref.Name()))
				return &Result[T]{
					ContinueProcessing: false,
					ModifiedPayload:    current,
					Violation:          v,
					Metadata:           combined,
				}, table, nil
			}
			m.logger.Warn("plugin would block (permissive mode)",
				"plugin", ref.Name(), "hook", hook, "reason", v.Reason, "code", v.Code)
			continue
		}

		m.countInvocation(ref.Name(), hook, outcomeOK)
	}

	return &Result[T]{
		ContinueProcessing: true,
		ModifiedPayload:    current,
		Metadata:           combined,
	}, table, nil
}

// invokeTimed runs one hook invocation under the per-call timeout. The hook
// runs in its own goroutine so even an implementation that ignores its
// context cannot stall dispatch past the bound; on timeout the in-flight
// call is cancelled best-effort through its context and a structured timeout
// error is synthesized. Caller cancellation propagates through ctx.
func invokeTimed[T hookPayload](
	ctx context.Context,
	timeout time.Duration,
	pluginName string,
	fn func(context.Context) (*Result[T], error),
) (*Result[T], error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *Result[T]
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &Error{
					Message:    fmt.Sprintf("panic in hook: %v", r),
					Code:       ErrCodePanic,
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
			return nil, &Error{
				Message:    fmt.Sprintf("hook timed out after %s", timeout),
				Code:       ErrCodeTimeout,
				PluginName: pluginName,
			}
		}
		return nil, ctx.Err()
	}
}

// toPluginError normalizes an invocation failure into the structured error
// shape; invocation errors are contained per plugin and never unwind past
// the dispatch loop.
func toPluginError(err error, pluginName string) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.PluginName == "" {
			perr.PluginName = pluginName
		}
		return perr
	}
	return &Error{Message: err.Error(), PluginName: pluginName}
}

// payloadDigest hashes a payload's serialized form for audit correlation.
func payloadDigest(p Payload) uint64 {
	raw, err := json.Marshal(p)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(raw)
}

func (m *Manager) countInvocation(plugin string, hook HookType, outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.InvocationsTotal.WithLabelValues(plugin, string(hook), outcome).Inc()
}

func (m *Manager) record(ctx context.Context, ev AuditEvent) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(ctx, ev); err != nil {
		m.logger.Error("audit record failed", "plugin", ev.Plugin, "hook", ev.Hook, "error", err)
	}
}

// configOf extracts the configuration entry from a plugin for timeout
// resolution. Plugins that do not expose their config fall back to the
// manager-wide timeout.
func configOf(p Plugin) interface{ Timeout() time.Duration } {
	if c, ok := p.(interface{ Config() Config }); ok {
		cfg := c.Config()
		return &cfg
	}
	return zeroTimeout{}
}

type zeroTimeout struct{}

func (zeroTimeout) Timeout() time.Duration { return 0 }
