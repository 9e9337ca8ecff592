// Package denyfilter blocks prompt requests whose arguments contain any
// configured deny-listed word.
package denyfilter

import (
	"context"
	"fmt"
	"strings"

	"github.com/toolgate/toolgate/internal/plugin"
)

// Kind identifies this plugin in configuration documents.
const Kind = "deny_filter"

func init() {
	plugin.RegisterKind(Kind, func(cfg plugin.Config) (plugin.Plugin, error) {
		return New(cfg)
	})
}

type settings struct {
	Words []string `yaml:"words"`
}

// Filter rejects prompt arguments containing deny-listed words.
type Filter struct {
	plugin.Base
	words []string
}

// New constructs the filter from its configuration entry.
func New(cfg plugin.Config) (*Filter, error) {
	var s settings
	if err := plugin.DecodeConfig(cfg.Config, &s); err != nil {
		return nil, fmt.Errorf("deny_filter config: %w", err)
	}
	return &Filter{Base: plugin.NewBase(cfg), words: s.Words}, nil
}

// PromptPreFetch implements plugin.PromptPreFetcher.
func (f *Filter) PromptPreFetch(ctx context.Context, payload *plugin.PromptPrePayload, pctx *plugin.Context) (*plugin.PromptPreResult, error) {
	for key, value := range payload.Args {
		for _, word := range f.words {
			if strings.Contains(value, word) {
				return plugin.BlockResult[*plugin.PromptPrePayload](&plugin.Violation{
					Reason:      "Prompt not allowed",
					Description: fmt.Sprintf("argument %q contains a deny-listed word", key),
					Code:        "deny",
					Details:     map[string]any{"word": word, "arg": key},
				}), nil
			}
		}
	}
	return plugin.ContinueResult[*plugin.PromptPrePayload](), nil
}

var (
	_ plugin.Plugin           = (*Filter)(nil)
	_ plugin.PromptPreFetcher = (*Filter)(nil)
)
