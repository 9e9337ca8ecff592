// Package headerinject adds configured pass-through headers to tool
// invocations before they reach the provider.
package headerinject

import (
	"context"
	"fmt"

	"github.com/toolgate/toolgate/internal/plugin"
)

// Kind identifies this plugin in configuration documents.
const Kind = "header_inject"

func init() {
	plugin.RegisterKind(Kind, func(cfg plugin.Config) (plugin.Plugin, error) {
		return New(cfg)
	})
}

type settings struct {
	Headers map[string]string `yaml:"headers"`

	// Overwrite controls whether configured headers replace ones already
	// present on the invocation. Off by default so callers keep precedence.
	Overwrite bool `yaml:"overwrite"`
}

// Injector adds headers to tool invocations.
type Injector struct {
	plugin.Base
	headers   map[string]string
	overwrite bool
}

// New constructs the injector from its configuration entry.
func New(cfg plugin.Config) (*Injector, error) {
	var s settings
	if err := plugin.DecodeConfig(cfg.Config, &s); err != nil {
		return nil, fmt.Errorf("header_inject config: %w", err)
	}
	return &Injector{
		Base:      plugin.NewBase(cfg),
		headers:   s.Headers,
		overwrite: s.Overwrite,
	}, nil
}

// ToolPreInvoke implements plugin.ToolPreInvoker.
func (i *Injector) ToolPreInvoke(ctx context.Context, payload *plugin.ToolPrePayload, pctx *plugin.Context) (*plugin.ToolPreResult, error) {
	if len(i.headers) == 0 {
		return plugin.ContinueResult[*plugin.ToolPrePayload](), nil
	}
	headers := make(map[string]string, len(payload.Headers)+len(i.headers))
	for k, v := range payload.Headers {
		headers[k] = v
	}
	changed := false
	for k, v := range i.headers {
		if _, exists := headers[k]; exists && !i.overwrite {
			continue
		}
		if headers[k] != v {
			headers[k] = v
			changed = true
		}
	}
	if !changed {
		return plugin.ContinueResult[*plugin.ToolPrePayload](), nil
	}
	return plugin.ModifyResult(&plugin.ToolPrePayload{
		Name:    payload.Name,
		Args:    payload.Args,
		Headers: headers,
	}), nil
}

var (
	_ plugin.Plugin         = (*Injector)(nil)
	_ plugin.ToolPreInvoker = (*Injector)(nil)
)
