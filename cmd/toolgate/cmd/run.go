package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/gateway"
	"github.com/toolgate/toolgate/internal/plugin"
	_ "github.com/toolgate/toolgate/internal/plugin/external"
	_ "github.com/toolgate/toolgate/internal/plugin/plugins/builtins"
)

var runCmd = &cobra.Command{
	Use:   "run [-- command [args...]]",
	Short: "Run the gateway server",
	Long: `Run the ToolGate gateway server.

Operations arriving on the HTTP API pass through the plugin chain, then
forward to the upstream MCP server:

1. HTTP mode: Connect to a remote MCP server via HTTP
   Configure upstream.http in your config file.

2. Stdio mode: Spawn an MCP server as a subprocess
   Configure upstream.command in your config file, or pass command after --.

Examples:
  # Run with config file settings
  toolgate run

  # Run with a specific MCP server command
  toolgate run -- npx @modelcontextprotocol/server-filesystem /tmp

  # Run with a specific config file
  toolgate --config /path/to/config.yaml run`,
	RunE: runGateway,
}

var devMode bool

func init() {
	runCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging)")
	rootCmd.AddCommand(runCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
		cfg.Server.LogLevel = "debug"
	}
	if len(args) > 0 {
		cfg.Upstream.Command = args[0]
		cfg.Upstream.Args = args[1:]
		cfg.Upstream.HTTP = ""
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Logs go to stderr; stdout stays clean for subprocess transports.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)
	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	return run(ctx, cfg, logger)
}

// run wires the gateway together: telemetry, audit store, plugin manager,
// upstream, service, HTTP server.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Telemetry.Traces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	managerOpts := []plugin.Option{plugin.WithLogger(logger)}
	if cfg.Telemetry.Metrics {
		managerOpts = append(managerOpts, plugin.WithMetrics(plugin.NewMetrics(reg)))
	}
	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		managerOpts = append(managerOpts, plugin.WithRecorder(store))
		logger.Info("audit store opened", "path", cfg.Audit.Path)
	}

	pluginConfig := &plugin.ConfigFile{}
	if cfg.Plugins.ConfigPath != "" {
		loaded, err := plugin.LoadConfigFile(cfg.Plugins.ConfigPath)
		if err != nil {
			return err
		}
		pluginConfig = loaded
		logger.Info("plugin config loaded",
			"path", cfg.Plugins.ConfigPath, "plugins", len(pluginConfig.Plugins))
	}

	manager := plugin.NewManager(pluginConfig, managerOpts...)
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize plugins: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("plugin shutdown failed", "error", err)
		}
	}()
	logger.Info("plugin manager ready", "plugins", manager.PluginCount())

	serviceOpts := []gateway.ServiceOption{gateway.WithServiceLogger(logger)}
	switch {
	case cfg.Upstream.HTTP != "":
		up, err := gateway.DialUpstreamHTTP(ctx, cfg.Upstream.HTTP)
		if err != nil {
			return err
		}
		defer func() { _ = up.Close() }()
		serviceOpts = append(serviceOpts,
			gateway.WithPromptProvider(up),
			gateway.WithToolProvider(up),
			gateway.WithResourceProvider(up))
		logger.Info("upstream connected", "url", cfg.Upstream.HTTP)
	case cfg.Upstream.Command != "":
		up, err := gateway.DialUpstreamCommand(ctx, cfg.Upstream.Command, cfg.Upstream.Args...)
		if err != nil {
			return err
		}
		defer func() { _ = up.Close() }()
		serviceOpts = append(serviceOpts,
			gateway.WithPromptProvider(up),
			gateway.WithToolProvider(up),
			gateway.WithResourceProvider(up))
		logger.Info("upstream spawned", "command", cfg.Upstream.Command)
	default:
		logger.Warn("no upstream configured, serving health and metrics only")
	}

	svc := gateway.NewService(manager, serviceOpts...)
	api := gateway.NewAPI(svc, logger)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Telemetry.Metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("toolgate listening", "addr", cfg.Server.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
