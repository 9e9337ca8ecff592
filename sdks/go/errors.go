package toolgate

import "fmt"

// BlockedError is returned when a gateway plugin in enforce mode refused the
// operation. It carries the violation the plugin raised.
type BlockedError struct {
	// RequestID identifies the blocked gateway request.
	RequestID string

	// PluginName is the plugin that raised the violation.
	PluginName string

	// Reason is the violation's short category ("Prompt not allowed").
	Reason string

	// Description explains the decision in one sentence.
	Description string

	// Code is the violation's machine-readable identifier ("deny").
	Code string

	// Details carries plugin-specific diagnostic data.
	Details map[string]any
}

func (e *BlockedError) Error() string {
	if e.PluginName != "" {
		return fmt.Sprintf("blocked by plugin %s: %s", e.PluginName, e.Reason)
	}
	return fmt.Sprintf("blocked: %s", e.Reason)
}

// APIError is returned for non-blocking gateway failures: bad requests,
// provider errors, or plugin-chain errors escalated by the gateway.
type APIError struct {
	// StatusCode is the HTTP status the gateway returned.
	StatusCode int

	// RequestID identifies the failed request when the gateway assigned one.
	RequestID string

	// Message is the gateway's error text.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("toolgate: HTTP %d: %s", e.StatusCode, e.Message)
}

// ServerUnreachableError is returned when the gateway cannot be reached at
// the transport level.
type ServerUnreachableError struct {
	// Cause is the underlying connection error.
	Cause error
}

func (e *ServerUnreachableError) Error() string {
	return fmt.Sprintf("toolgate server unreachable: %v", e.Cause)
}

func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}
