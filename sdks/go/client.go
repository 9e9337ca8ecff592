package toolgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Identity headers the gateway reads into the global context.
const (
	headerRequestID = "X-Request-Id"
	headerServerID  = "X-Toolgate-Server"
	headerTenantID  = "X-Toolgate-Tenant"
	headerUser      = "X-Toolgate-User"
)

// Client is the ToolGate SDK client. It sends tool, prompt, and resource
// operations through the gateway's plugin interception chain.
type Client struct {
	serverAddr string
	serverID   string
	tenantID   string
	user       string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new ToolGate SDK client.
// It reads configuration from TOOLGATE_* environment variables by default.
// Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("TOOLGATE_SERVER_ADDR"),
		serverID:   os.Getenv("TOOLGATE_SERVER_ID"),
		tenantID:   os.Getenv("TOOLGATE_TENANT_ID"),
		user:       os.Getenv("TOOLGATE_USER"),
		timeout:    parseDurationEnv("TOOLGATE_TIMEOUT", 30*time.Second),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// InvokeTool runs one tool invocation through the gateway. A plugin refusal
// is returned as a *BlockedError.
func (c *Client) InvokeTool(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	if req.Name == "" {
		return nil, errors.New("tool name is required")
	}
	var result ToolResult
	if err := c.doRequest(ctx, "/v1/tools/invoke", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt retrieves one rendered prompt through the gateway.
func (c *Client) GetPrompt(ctx context.Context, req PromptRequest) (*PromptResult, error) {
	if req.Name == "" {
		return nil, errors.New("prompt name is required")
	}
	var envelope struct {
		RequestID string `json:"request_id"`
		Result    struct {
			Description string          `json:"description"`
			Messages    []PromptMessage `json:"messages"`
		} `json:"result"`
	}
	if err := c.doRequest(ctx, "/v1/prompts/get", req, &envelope); err != nil {
		return nil, err
	}
	return &PromptResult{
		RequestID:   envelope.RequestID,
		Description: envelope.Result.Description,
		Messages:    envelope.Result.Messages,
	}, nil
}

// ReadResource fetches one resource through the gateway.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ResourceResult, error) {
	if uri == "" {
		return nil, errors.New("resource uri is required")
	}
	var envelope struct {
		RequestID string `json:"request_id"`
		Result    struct {
			URI      string `json:"uri"`
			MimeType string `json:"mime_type"`
			Text     string `json:"text"`
			Blob     []byte `json:"blob"`
		} `json:"result"`
	}
	if err := c.doRequest(ctx, "/v1/resources/read", map[string]string{"uri": uri}, &envelope); err != nil {
		return nil, err
	}
	return &ResourceResult{
		RequestID: envelope.RequestID,
		URI:       envelope.Result.URI,
		MimeType:  envelope.Result.MimeType,
		Text:      envelope.Result.Text,
		Blob:      envelope.Result.Blob,
	}, nil
}

// CheckTool is a convenience method that reports whether a tool invocation
// would pass the interception chain. Unlike InvokeTool, it does not return an
// error on policy blocks.
func (c *Client) CheckTool(ctx context.Context, req ToolRequest) (bool, error) {
	_, err := c.InvokeTool(ctx, req)
	if err != nil {
		var blocked *BlockedError
		if errors.As(err, &blocked) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// errorResponse is the gateway's error body shape.
type errorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Violation *struct {
		Reason      string         `json:"reason"`
		Description string         `json:"description"`
		Code        string         `json:"code"`
		Details     map[string]any `json:"details"`
		PluginName  string         `json:"plugin_name"`
	} `json:"violation"`
}

// doRequest performs one HTTP POST to the gateway.
func (c *Client) doRequest(ctx context.Context, path string, body any, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.serverID != "" {
		httpReq.Header.Set(headerServerID, c.serverID)
	}
	if c.tenantID != "" {
		httpReq.Header.Set(headerTenantID, c.tenantID)
	}
	if c.user != "" {
		httpReq.Header.Set(headerUser, c.user)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ServerUnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return decodeErrorResponse(httpResp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// decodeErrorResponse maps a gateway error body to a typed error: 403 with a
// violation becomes *BlockedError, everything else *APIError.
func decodeErrorResponse(status int, body []byte) error {
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return &APIError{StatusCode: status, Message: string(body)}
	}
	if status == http.StatusForbidden && resp.Violation != nil {
		return &BlockedError{
			RequestID:   resp.RequestID,
			PluginName:  resp.Violation.PluginName,
			Reason:      resp.Violation.Reason,
			Description: resp.Violation.Description,
			Code:        resp.Violation.Code,
			Details:     resp.Violation.Details,
		}
	}
	return &APIError{
		StatusCode: status,
		RequestID:  resp.RequestID,
		Message:    resp.Error,
	}
}

// parseDurationEnv reads a timeout from the environment, accepting either a
// duration string ("5s") or an integer second count.
func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	return defaultVal
}
