package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/RoyGeagea/udpchatroom/internal/admin"
	"github.com/RoyGeagea/udpchatroom/internal/config"
	"github.com/RoyGeagea/udpchatroom/internal/metrics"
	"github.com/RoyGeagea/udpchatroom/internal/relay"
	"github.com/RoyGeagea/udpchatroom/internal/server"
)

const (
	serviceName    = "talkd"
	serviceVersion = "1.0.0"
)

var (
	configPath string
	udpPort    int
	logLevel   string
	noConsole  bool
)

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "UDP group chat relay",
	Long: `Relays chat lines between peers joined over UDP.

Operator commands on standard input:
  _kill <name>   ask a session to log out
  _shutdown      log out every session and exit

Examples:
  talkd --port 2000
  talkd --config configs/server.yaml`,
	Version:       serviceVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().IntVarP(&udpPort, "port", "p", 0, "UDP port to listen on (overrides configuration)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides configuration)")
	rootCmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read operator commands from standard input")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, if any, and applies flag overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.UDPPort = udpPort
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Duration("ping_interval", cfg.Liveness.GetPingInterval()),
		slog.Duration("eviction_timeout", cfg.Liveness.GetEvictionTimeout()),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	udpServer := server.NewUDPServer(&cfg.Server, logger)

	hub, err := relay.NewHub(cfg.Server.MaxSessions, udpServer, logger, appMetrics,
		relay.WithPingInterval(cfg.Liveness.GetPingInterval()),
		relay.WithEvictionTimeout(cfg.Liveness.GetEvictionTimeout()),
	)
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(logger, cfg, hub, udpServer, appMetrics, registry)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	go func() {
		if err := hub.Run(hubCtx); err != nil {
			logger.Error("Relay stopped with error", slog.String("error", err.Error()))
		}
	}()

	if err := udpServer.Start(hub); err != nil {
		stopHub()
		<-hub.Done()
		return fmt.Errorf("failed to start UDP server: %w", err)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			stopHub()
			<-hub.Done()
			udpServer.Stop()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	consoleDone := make(chan error, 1)
	if !noConsole {
		console := admin.NewConsole(hub, os.Stdout, logger)
		go func() { consoleDone <- console.Run(hubCtx, os.Stdin) }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", udpServer.LocalAddr().String()),
	)

	var runErr error
wait:
	for {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			break wait
		case err := <-consoleDone:
			if err == nil {
				// input closed; the relay keeps running
				logger.Info("Admin console closed")
				consoleDone = nil
				continue
			}
			if errors.Is(err, admin.ErrShutdownRequested) {
				logger.Info("Shutdown requested from console")
			} else {
				logger.Error("Admin console failed", slog.String("error", err.Error()))
			}
			break wait
		case err := <-udpServer.Errors():
			runErr = fmt.Errorf("UDP server failed: %w", err)
			break wait
		case <-hub.Done():
			logger.Info("Relay stopped")
			break wait
		}
	}

	logger.Info("Starting graceful shutdown...")

	// cancelling a running hub notifies every session with #closed
	stopHub()
	<-hub.Done()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
		slog.Uint64("packets_sent", stats.PacketsSent),
		slog.Uint64("send_errors", stats.SendErrors),
	)

	logger.Info("Service stopped")
	return runErr
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
