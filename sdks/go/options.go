package toolgate

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the ToolGate gateway address, e.g. "http://127.0.0.1:4444".
// If not set, defaults to the TOOLGATE_SERVER_ADDR environment variable.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithServerID sets the virtual server identity sent on every request.
// Plugin conditions can match on it.
func WithServerID(id string) Option {
	return func(c *Client) {
		c.serverID = id
	}
}

// WithTenantID sets the tenant identity sent on every request.
func WithTenantID(id string) Option {
	return func(c *Client) {
		c.tenantID = id
	}
}

// WithUser sets the user identity sent on every request.
// If not set, defaults to the TOOLGATE_USER environment variable.
func WithUser(user string) Option {
	return func(c *Client) {
		c.user = user
	}
}

// WithTimeout sets the HTTP request timeout.
// If not set, defaults to 30 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client. Overrides WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
