// Package config provides the ToolGate application configuration: the HTTP
// listener, the plugin configuration document location, audit persistence,
// and telemetry toggles. The plugin document itself has its own schema and
// loader in the plugin package; this file only points at it.
package config

import "github.com/spf13/viper"

// Config is the top-level ToolGate configuration.
type Config struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Upstream configures the provider server that tool, prompt, and
	// resource operations are forwarded to after interception.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Plugins points at the plugin configuration document.
	Plugins PluginsConfig `yaml:"plugins" mapstructure:"plugins"`

	// Audit configures persistence of plugin enforcement events.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry configures metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:4444").
	// Defaults to "127.0.0.1:4444" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// UpstreamConfig configures the upstream MCP provider server.
// At most one of HTTP or Command may be set. When both are empty the gateway
// serves health and metrics only.
type UpstreamConfig struct {
	// HTTP is the URL of a remote MCP server (e.g., "http://localhost:3000/mcp").
	HTTP string `yaml:"http" mapstructure:"http" validate:"omitempty,url"`

	// Command is the path to an MCP server executable to spawn as a
	// subprocess.
	Command string `yaml:"command" mapstructure:"command"`

	// Args are the arguments passed to the subprocess command.
	Args []string `yaml:"args" mapstructure:"args"`
}

// Configured reports whether an upstream is set.
func (u *UpstreamConfig) Configured() bool {
	return u.HTTP != "" || u.Command != ""
}

// PluginsConfig locates the plugin configuration document.
type PluginsConfig struct {
	// ConfigPath is the path to the plugin YAML document. When empty the
	// gateway starts with no plugins and every operation passes through.
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// AuditConfig configures the SQLite event store for plugin violations and
// errors.
type AuditConfig struct {
	// Enabled turns event persistence on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the SQLite database file, or ":memory:" for an ephemeral
	// store. Defaults to "toolgate-audit.db" when auditing is enabled.
	Path string `yaml:"path" mapstructure:"path"`
}

// TelemetryConfig configures observability outputs.
type TelemetryConfig struct {
	// Metrics exposes Prometheus metrics on /metrics when true.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`

	// Traces enables span export to stdout when true.
	Traces bool `yaml:"traces" mapstructure:"traces"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only; network exposure is an explicit choice.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:4444"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.DevMode {
		c.Server.LogLevel = "debug"
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		c.Audit.Path = "toolgate-audit.db"
	}

	// Metrics default on; viper.IsSet distinguishes "not set" from an
	// explicit false.
	if !viper.IsSet("telemetry.metrics") {
		c.Telemetry.Metrics = true
	}
}
