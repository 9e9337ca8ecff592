package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/plugin"
	"github.com/toolgate/toolgate/internal/plugin/external"
	_ "github.com/toolgate/toolgate/internal/plugin/plugins/builtins"
)

var (
	pluginServerConfig    string
	pluginServerTransport string
	pluginServerAddr      string
	pluginServerKeyHash   string
	pluginServerLogLevel  string
)

var pluginServerCmd = &cobra.Command{
	Use:   "plugin-server",
	Short: "Serve plugins to remote gateways over MCP",
	Long: `Run a standalone plugin host. Gateways configure plugins with
kind "external" pointing at this process, and every hook invocation is
forwarded here over MCP.

Transports:
  stdio   The gateway spawns this process and talks over stdin/stdout.
  http    This process listens for streamable HTTP connections; protect it
          with --api-key-hash (generate one with "toolgate hash-key").

Examples:
  toolgate plugin-server --plugin-config plugins.yaml
  toolgate plugin-server --plugin-config plugins.yaml --transport http \
      --addr 127.0.0.1:8444 --api-key-hash "$HASH"`,
	RunE: runPluginServer,
}

func init() {
	pluginServerCmd.Flags().StringVar(&pluginServerConfig, "plugin-config", "", "plugin configuration document (required)")
	pluginServerCmd.Flags().StringVar(&pluginServerTransport, "transport", "stdio", "transport: stdio or http")
	pluginServerCmd.Flags().StringVar(&pluginServerAddr, "addr", "127.0.0.1:8444", "listen address for the http transport")
	pluginServerCmd.Flags().StringVar(&pluginServerKeyHash, "api-key-hash", "", "require a matching API key on the http transport")
	pluginServerCmd.Flags().StringVar(&pluginServerLogLevel, "log-level", "info", "minimum log level")
	_ = pluginServerCmd.MarkFlagRequired("plugin-config")
	rootCmd.AddCommand(pluginServerCmd)
}

func runPluginServer(cmd *cobra.Command, args []string) error {
	// Stdout carries the MCP stream in stdio mode; logs must go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(pluginServerLogLevel),
	}))

	cf, err := plugin.LoadConfigFile(pluginServerConfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []external.HostOption{external.WithHostLogger(logger)}
	if pluginServerKeyHash != "" {
		opts = append(opts, external.WithAPIKeyHash(pluginServerKeyHash))
	}
	host := external.NewHost(cf, opts...)
	if err := host.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize plugin host: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = host.Shutdown(shutdownCtx)
	}()

	switch pluginServerTransport {
	case "stdio":
		logger.Info("plugin host serving on stdio")
		return host.Run(ctx)
	case "http":
		mux := http.NewServeMux()
		mux.Handle("/mcp", host.HTTPHandler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		srv := &http.Server{
			Addr:              pluginServerAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logger.Info("plugin host listening", "addr", pluginServerAddr)
			errCh <- srv.ListenAndServe()
		}()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", pluginServerTransport)
	}
}
