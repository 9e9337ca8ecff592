// Package toolgate provides a Go SDK for the ToolGate gateway API.
//
// ToolGate is a plugin interception layer between AI agent clients and their
// tool, prompt, and resource providers. This SDK calls the gateway's HTTP
// surface so Go programs can run operations through the interception chain
// without speaking MCP themselves. It uses only the Go standard library
// (net/http) with zero external dependencies.
//
// Quick start:
//
//	// Set TOOLGATE_SERVER_ADDR, then:
//	client := toolgate.NewClient()
//
//	result, err := client.InvokeTool(ctx, toolgate.ToolRequest{
//	    Name: "read_file",
//	    Args: map[string]any{"path": "notes.txt"},
//	})
//	if err != nil {
//	    var blocked *toolgate.BlockedError
//	    if errors.As(err, &blocked) {
//	        fmt.Printf("Blocked by %s: %s\n", blocked.PluginName, blocked.Reason)
//	    }
//	}
package toolgate

// ToolRequest is one tool invocation sent through the gateway.
type ToolRequest struct {
	// Name is the tool identifier on the upstream provider.
	Name string `json:"name"`

	// Args contains the tool arguments as key-value pairs.
	Args map[string]any `json:"args,omitempty"`

	// Headers are pass-through HTTP headers forwarded to the provider.
	Headers map[string]string `json:"headers,omitempty"`
}

// ToolResult is the provider's result after post-hook interception.
type ToolResult struct {
	// RequestID identifies the gateway request, for audit correlation.
	RequestID string `json:"request_id"`

	// Result is the tool output, shape defined by the tool.
	Result any `json:"result"`
}

// PromptRequest is one prompt retrieval sent through the gateway.
type PromptRequest struct {
	// Name is the prompt template identifier.
	Name string `json:"name"`

	// Args are the template arguments.
	Args map[string]string `json:"args,omitempty"`
}

// PromptMessage is one entry of a rendered prompt.
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PromptResult is a rendered prompt after post-hook interception.
type PromptResult struct {
	RequestID   string          `json:"request_id"`
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ResourceResult is fetched resource content after post-hook interception.
type ResourceResult struct {
	RequestID string `json:"request_id"`
	URI       string `json:"uri"`
	MimeType  string `json:"mime_type,omitempty"`
	Text      string `json:"text,omitempty"`
	Blob      []byte `json:"blob,omitempty"`
}
