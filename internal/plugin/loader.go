package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory constructs a plugin instance from its configuration entry.
// Construction must not block; slow work (connections, warm-up) belongs in
// Initialize.
type Factory func(cfg Config) (Plugin, error)

// kindRegistry maps kind identifiers to factories. Written by RegisterKind
// during package initialization, read-only once plugins start loading.
var kindRegistry = struct {
	mu    sync.RWMutex
	kinds map[string]Factory
}{kinds: make(map[string]Factory)}

// RegisterKind makes a plugin implementation available under the given kind
// identifier. Typically called from an init function of the implementing
// package; registering the same kind twice panics, as that is a programming
// error.
func RegisterKind(kind string, f Factory) {
	kindRegistry.mu.Lock()
	defer kindRegistry.mu.Unlock()
	if _, dup := kindRegistry.kinds[kind]; dup {
		panic(fmt.Sprintf("plugin: kind %q registered twice", kind))
	}
	kindRegistry.kinds[kind] = f
}

// RegisteredKinds returns the known kind identifiers, sorted.
func RegisteredKinds() []string {
	kindRegistry.mu.RLock()
	defer kindRegistry.mu.RUnlock()
	kinds := make([]string, 0, len(kindRegistry.kinds))
	for k := range kindRegistry.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// lookupKind resolves a kind identifier to its factory.
func lookupKind(kind string) (Factory, bool) {
	kindRegistry.mu.RLock()
	defer kindRegistry.mu.RUnlock()
	f, ok := kindRegistry.kinds[kind]
	return f, ok
}

// Loader resolves configuration entries to constructed, initialized plugin
// instances. Each distinct kind is resolved once and cached; subsequent
// loads of the same kind reuse the resolved factory.
type Loader struct {
	mu       sync.Mutex
	resolved map[string]Factory
	logger   *slog.Logger
}

// NewLoader creates a loader. A nil logger falls back to slog.Default.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		resolved: make(map[string]Factory),
		logger:   logger,
	}
}

// resolve returns the factory for kind, consulting the cache first.
func (l *Loader) resolve(kind string) (Factory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.resolved[kind]; ok {
		return f, nil
	}
	f, ok := lookupKind(kind)
	if !ok {
		return nil, fmt.Errorf("unknown plugin kind %q (registered: %v)", kind, RegisteredKinds())
	}
	l.resolved[kind] = f
	return f, nil
}

// Load constructs and initializes the plugin for one configuration entry.
// Any failure is returned to the caller; the manager treats it as a fatal
// initialization error, since a partially-loaded plugin set would silently
// change policy enforcement.
func (l *Loader) Load(ctx context.Context, cfg Config) (Plugin, error) {
	factory, err := l.resolve(cfg.Kind)
	if err != nil {
		return nil, err
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("construct plugin %q (kind %s): %w", cfg.Name, cfg.Kind, err)
	}
	if err := p.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize plugin %q: %w", cfg.Name, err)
	}
	l.logger.Debug("plugin loaded", "plugin", cfg.Name, "kind", cfg.Kind)
	return p, nil
}
