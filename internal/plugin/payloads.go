package plugin

// Payload is the value object threaded through a hook dispatch. Plugins
// return a replacement payload rather than mutating in place, so later
// plugins in the chain observe only explicit hand-offs.
type Payload interface {
	// MatchValue is the identifier consulted by condition matching:
	// the prompt or tool name, the resource URI, or the agent id.
	MatchValue() string
}

// Message is one entry of a rendered prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptResult is a rendered prompt as returned by a prompt provider.
type PromptResult struct {
	Description string    `json:"description,omitempty"`
	Messages    []Message `json:"messages"`
}

// PromptPrePayload is dispatched on prompt_pre_fetch, before the prompt
// template is retrieved and rendered.
type PromptPrePayload struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args,omitempty"`
}

// MatchValue implements Payload.
func (p *PromptPrePayload) MatchValue() string { return p.Name }

// PromptPostPayload is dispatched on prompt_post_fetch with the rendered
// prompt.
type PromptPostPayload struct {
	Name   string        `json:"name"`
	Result *PromptResult `json:"result"`
}

// MatchValue implements Payload.
func (p *PromptPostPayload) MatchValue() string { return p.Name }

// ToolPrePayload is dispatched on tool_pre_invoke with the tool arguments.
type ToolPrePayload struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`

	// Headers are HTTP pass-through headers forwarded to the tool provider.
	Headers map[string]string `json:"headers,omitempty"`
}

// MatchValue implements Payload.
func (p *ToolPrePayload) MatchValue() string { return p.Name }

// ToolPostPayload is dispatched on tool_post_invoke with the provider result.
type ToolPostPayload struct {
	Name   string `json:"name"`
	Result any    `json:"result,omitempty"`
}

// MatchValue implements Payload.
func (p *ToolPostPayload) MatchValue() string { return p.Name }

// ResourceContent is fetched resource data.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     []byte `json:"blob,omitempty"`
}

// ResourcePrePayload is dispatched on resource_pre_fetch.
type ResourcePrePayload struct {
	URI      string         `json:"uri"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MatchValue implements Payload.
func (p *ResourcePrePayload) MatchValue() string { return p.URI }

// ResourcePostPayload is dispatched on resource_post_fetch with the fetched
// content.
type ResourcePostPayload struct {
	URI     string           `json:"uri"`
	Content *ResourceContent `json:"content"`
}

// MatchValue implements Payload.
func (p *ResourcePostPayload) MatchValue() string { return p.URI }
