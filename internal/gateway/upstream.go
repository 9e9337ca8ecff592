package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/toolgate/toolgate/internal/plugin"
)

// Upstream adapts one MCP server session to the provider interfaces, so a
// whole gateway deployment can forward intercepted operations to a single
// upstream while keeping the interception chain in front of it.
type Upstream struct {
	session *mcp.ClientSession
}

// DialUpstreamHTTP connects to a remote MCP server over streamable HTTP.
func DialUpstreamHTTP(ctx context.Context, url string) (*Upstream, error) {
	return dialUpstream(ctx, &mcp.StreamableClientTransport{
		Endpoint:   url,
		HTTPClient: &http.Client{},
	})
}

// DialUpstreamCommand spawns an MCP server subprocess and connects over
// stdio.
func DialUpstreamCommand(ctx context.Context, command string, args ...string) (*Upstream, error) {
	cmd := exec.Command(command, args...)
	return dialUpstream(ctx, &mcp.CommandTransport{Command: cmd})
}

func dialUpstream(ctx context.Context, transport mcp.Transport) (*Upstream, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "toolgate",
		Version: "1.0.0",
	}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect upstream: %w", err)
	}
	return &Upstream{session: session}, nil
}

// Close ends the upstream session.
func (u *Upstream) Close() error {
	return u.session.Close()
}

// FetchPrompt implements PromptProvider.
func (u *Upstream) FetchPrompt(ctx context.Context, name string, args map[string]string) (*plugin.PromptResult, error) {
	res, err := u.session.GetPrompt(ctx, &mcp.GetPromptParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	result := &plugin.PromptResult{Description: res.Description}
	for _, m := range res.Messages {
		content := ""
		if tc, ok := m.Content.(*mcp.TextContent); ok {
			content = tc.Text
		}
		result.Messages = append(result.Messages, plugin.Message{
			Role:    string(m.Role),
			Content: content,
		})
	}
	return result, nil
}

// InvokeTool implements ToolProvider. Pass-through headers have no transport
// representation on an MCP session and are dropped here; plugins that need
// them inspect the payload before it reaches the provider.
func (u *Upstream) InvokeTool(ctx context.Context, name string, args map[string]any, headers map[string]string) (any, error) {
	res, err := u.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	text := upstreamResultText(res)
	if res.IsError {
		return nil, fmt.Errorf("tool %q failed: %s", name, text)
	}
	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}
	// Some servers return JSON in plain text content.
	var structured any
	if err := json.Unmarshal([]byte(text), &structured); err == nil {
		return structured, nil
	}
	return text, nil
}

// FetchResource implements ResourceProvider.
func (u *Upstream) FetchResource(ctx context.Context, uri string) (*plugin.ResourceContent, error) {
	res, err := u.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	if len(res.Contents) == 0 {
		return nil, errors.New("upstream returned no resource contents")
	}
	c := res.Contents[0]
	return &plugin.ResourceContent{
		URI:      c.URI,
		MimeType: c.MIMEType,
		Text:     c.Text,
		Blob:     c.Blob,
	}, nil
}

func upstreamResultText(res *mcp.CallToolResult) string {
	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

var (
	_ PromptProvider   = (*Upstream)(nil)
	_ ToolProvider     = (*Upstream)(nil)
	_ ResourceProvider = (*Upstream)(nil)
)
