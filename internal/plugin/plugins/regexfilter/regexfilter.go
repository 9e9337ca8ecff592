// Package regexfilter rewrites prompt arguments, tool arguments, and tool
// results with configured search and replace rules.
package regexfilter

import (
	"context"
	"fmt"
	"regexp"

	"github.com/toolgate/toolgate/internal/plugin"
)

// Kind identifies this plugin in configuration documents.
const Kind = "regex_filter"

func init() {
	plugin.RegisterKind(Kind, func(cfg plugin.Config) (plugin.Plugin, error) {
		return New(cfg)
	})
}

type settings struct {
	Rules []struct {
		Search  string `yaml:"search"`
		Replace string `yaml:"replace"`
	} `yaml:"rules"`
}

type rule struct {
	re      *regexp.Regexp
	replace string
}

// Filter applies search and replace rules to textual payload fields.
type Filter struct {
	plugin.Base
	rules []rule
}

// New constructs the filter, compiling every rule. A rule that does not
// compile is a configuration error.
func New(cfg plugin.Config) (*Filter, error) {
	var s settings
	if err := plugin.DecodeConfig(cfg.Config, &s); err != nil {
		return nil, fmt.Errorf("regex_filter config: %w", err)
	}
	rules := make([]rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		re, err := regexp.Compile(r.Search)
		if err != nil {
			return nil, fmt.Errorf("regex_filter rule %q: %w", r.Search, err)
		}
		rules = append(rules, rule{re: re, replace: r.Replace})
	}
	return &Filter{Base: plugin.NewBase(cfg), rules: rules}, nil
}

// apply rewrites one string, counting whether anything changed.
func (f *Filter) apply(s string, changed *bool) string {
	out := s
	for _, r := range f.rules {
		out = r.re.ReplaceAllString(out, r.replace)
	}
	if out != s {
		*changed = true
	}
	return out
}

// applyAny rewrites string values inside common result shapes.
func (f *Filter) applyAny(v any, changed *bool) any {
	switch t := v.(type) {
	case string:
		return f.apply(t, changed)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = f.applyAny(val, changed)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = f.applyAny(val, changed)
		}
		return out
	default:
		return v
	}
}

// PromptPreFetch implements plugin.PromptPreFetcher.
func (f *Filter) PromptPreFetch(ctx context.Context, payload *plugin.PromptPrePayload, pctx *plugin.Context) (*plugin.PromptPreResult, error) {
	changed := false
	args := make(map[string]string, len(payload.Args))
	for k, v := range payload.Args {
		args[k] = f.apply(v, &changed)
	}
	if !changed {
		return plugin.ContinueResult[*plugin.PromptPrePayload](), nil
	}
	res := plugin.ModifyResult(&plugin.PromptPrePayload{Name: payload.Name, Args: args})
	res.Metadata = map[string]any{"rewritten": true}
	return res, nil
}

// PromptPostFetch implements plugin.PromptPostFetcher.
func (f *Filter) PromptPostFetch(ctx context.Context, payload *plugin.PromptPostPayload, pctx *plugin.Context) (*plugin.PromptPostResult, error) {
	if payload.Result == nil {
		return plugin.ContinueResult[*plugin.PromptPostPayload](), nil
	}
	changed := false
	messages := make([]plugin.Message, len(payload.Result.Messages))
	for i, m := range payload.Result.Messages {
		messages[i] = plugin.Message{Role: m.Role, Content: f.apply(m.Content, &changed)}
	}
	if !changed {
		return plugin.ContinueResult[*plugin.PromptPostPayload](), nil
	}
	res := plugin.ModifyResult(&plugin.PromptPostPayload{
		Name: payload.Name,
		Result: &plugin.PromptResult{
			Description: payload.Result.Description,
			Messages:    messages,
		},
	})
	res.Metadata = map[string]any{"rewritten": true}
	return res, nil
}

// ToolPreInvoke implements plugin.ToolPreInvoker.
func (f *Filter) ToolPreInvoke(ctx context.Context, payload *plugin.ToolPrePayload, pctx *plugin.Context) (*plugin.ToolPreResult, error) {
	changed := false
	args := make(map[string]any, len(payload.Args))
	for k, v := range payload.Args {
		args[k] = f.applyAny(v, &changed)
	}
	if !changed {
		return plugin.ContinueResult[*plugin.ToolPrePayload](), nil
	}
	res := plugin.ModifyResult(&plugin.ToolPrePayload{
		Name:    payload.Name,
		Args:    args,
		Headers: payload.Headers,
	})
	res.Metadata = map[string]any{"rewritten": true}
	return res, nil
}

// ToolPostInvoke implements plugin.ToolPostInvoker.
func (f *Filter) ToolPostInvoke(ctx context.Context, payload *plugin.ToolPostPayload, pctx *plugin.Context) (*plugin.ToolPostResult, error) {
	changed := false
	result := f.applyAny(payload.Result, &changed)
	if !changed {
		return plugin.ContinueResult[*plugin.ToolPostPayload](), nil
	}
	res := plugin.ModifyResult(&plugin.ToolPostPayload{Name: payload.Name, Result: result})
	res.Metadata = map[string]any{"rewritten": true}
	return res, nil
}

var (
	_ plugin.Plugin            = (*Filter)(nil)
	_ plugin.PromptPreFetcher  = (*Filter)(nil)
	_ plugin.PromptPostFetcher = (*Filter)(nil)
	_ plugin.ToolPreInvoker    = (*Filter)(nil)
	_ plugin.ToolPostInvoker   = (*Filter)(nil)
)
