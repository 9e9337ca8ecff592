package plugin

import (
	"encoding/json"
	"fmt"
)

// Violation is a plugin's structured refusal to let an operation proceed.
// It is a deliberate policy decision, not a system error; the plugin's mode
// decides whether it blocks the request.
type Violation struct {
	// Reason is a short, user-visible category ("Prompt not allowed").
	Reason string `json:"reason"`

	// Description explains the decision in one sentence.
	Description string `json:"description,omitempty"`

	// Code is a stable machine-readable identifier ("deny").
	Code string `json:"code,omitempty"`

	// Details carries plugin-specific diagnostic data.
	Details map[string]any `json:"details,omitempty"`

	// PluginName identifies the plugin that raised the violation. Set by
	// the manager, not by the plugin.
	PluginName string `json:"plugin_name,omitempty"`
}

// Error is the structured failure shape for plugin invocations, local or
// remote. It is the only error form that crosses the external RPC boundary.
type Error struct {
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	PluginName string `json:"plugin_name,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.PluginName != "" {
		return fmt.Sprintf("plugin %s: %s", e.PluginName, e.Message)
	}
	return e.Message
}

// Error codes used by the framework itself.
const (
	ErrCodeTimeout = "PLUGIN_TIMEOUT"
	ErrCodePanic   = "PLUGIN_PANIC"
)

// Result is the outcome of one hook invocation. The zero value is not
// meaningful; construct results with the helpers below or with
// ContinueProcessing set explicitly.
type Result[T Payload] struct {
	// ContinueProcessing is false when the plugin wants to block the
	// operation. Interpreted according to the plugin's mode.
	ContinueProcessing bool `json:"continue_processing"`

	// ModifiedPayload, when non-nil, replaces the in-flight payload for
	// later plugins in the chain and, ultimately, for the caller.
	ModifiedPayload T `json:"modified_payload,omitempty"`

	// Violation describes why processing should stop. Only meaningful when
	// ContinueProcessing is false.
	Violation *Violation `json:"violation,omitempty"`

	// Metadata is merged additively across the chain; later plugins
	// overwrite earlier keys on conflict.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Err is set only on results synthesized from external-plugin
	// failures; it never originates from a well-behaved plugin.
	Err *Error `json:"error,omitempty"`
}

// ContinueResult returns a pass-through result that leaves the payload
// untouched.
func ContinueResult[T Payload]() *Result[T] {
	return &Result[T]{ContinueProcessing: true}
}

// ModifyResult returns a result that replaces the in-flight payload.
func ModifyResult[T Payload](p T) *Result[T] {
	return &Result[T]{ContinueProcessing: true, ModifiedPayload: p}
}

// BlockResult returns a result carrying a violation.
func BlockResult[T Payload](v *Violation) *Result[T] {
	return &Result[T]{ContinueProcessing: false, Violation: v}
}

// UnmarshalJSON decodes a result, defaulting continue_processing to true
// when the field is absent. External hosts may omit it for pass-through
// results.
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	type alias Result[T]
	a := alias{ContinueProcessing: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Result[T](a)
	return nil
}

// Result aliases, one per hook point.
type (
	PromptPreResult    = Result[*PromptPrePayload]
	PromptPostResult   = Result[*PromptPostPayload]
	ToolPreResult      = Result[*ToolPrePayload]
	ToolPostResult     = Result[*ToolPostPayload]
	ResourcePreResult  = Result[*ResourcePrePayload]
	ResourcePostResult = Result[*ResourcePostPayload]
)
