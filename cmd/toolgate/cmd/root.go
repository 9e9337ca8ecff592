// Package cmd provides the CLI commands for ToolGate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "ToolGate - plugin interception gateway for MCP servers",
	Long: `ToolGate sits between AI-agent clients and tool, prompt, and resource
providers, running every operation through a configurable plugin chain:
pre hooks before the provider is called, post hooks on its result.

Quick start:
  1. Create a config file: toolgate.yaml
  2. Create a plugin document and point plugins.config_path at it
  3. Run: toolgate run

Configuration:
  Config is loaded from toolgate.yaml in the current directory,
  $HOME/.toolgate/, or /etc/toolgate/.

  Environment variables can override config values with the TOOLGATE_ prefix.
  Example: TOOLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  run            Run the gateway server
  plugin-server  Serve plugins to remote gateways over MCP
  hash-key       Generate an Argon2id hash for a plugin host API key
  version        Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
