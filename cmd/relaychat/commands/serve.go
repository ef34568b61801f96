package commands

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/marmos91/relaychat/internal/logger"
	"github.com/marmos91/relaychat/pkg/adapter/chat"
	"github.com/marmos91/relaychat/pkg/api"
	"github.com/marmos91/relaychat/pkg/config"
	"github.com/marmos91/relaychat/pkg/metrics"
	chatprom "github.com/marmos91/relaychat/pkg/metrics/prometheus"
)

var serveCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Start the relaychat server",
	Long: `Start the relaychat server.

The optional positional port overrides the configured server.port.
The server runs in the foreground and shuts down gracefully on SIGINT:
connected clients are notified, pending file transfers are aborted, and
session workers get a grace period to drain.

Examples:
  # Start on the configured (or default) port
  relaychat serve

  # Start on port 5000
  relaychat serve 5000

  # Start with a custom config file
  relaychat serve --config /etc/relaychat/config.yaml

  # Environment overrides
  RELAYCHAT_LOGGING_LEVEL=DEBUG relaychat serve 5000`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q: must be 1-65535", args[0])
		}
		cfg.Server.Port = port
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Output: cfg.Logging.File,
	}); err != nil {
		return err
	}
	defer logger.Shutdown()

	logger.Tag(logger.TagServer, "=== Server starting ===",
		"version", Version, "port", cfg.Server.Port)

	// SIGINT/SIGTERM cancel the context; all teardown runs on this
	// goroutine after Serve returns.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var chatMetrics metrics.ChatMetrics
	var gatherer prometheus.Gatherer
	if cfg.Admin.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		chatMetrics = chatprom.NewChatMetrics(reg)
		gatherer = reg
	}

	adapter := chat.New(chat.Config{
		Port:           cfg.Server.Port,
		MaxConnections: cfg.Server.MaxConnections,
		ShutdownGrace:  cfg.Server.ShutdownGrace,
	}, chatMetrics)

	if cfg.Admin.Enabled {
		adminServer := api.New(cfg.Admin.Port, adapter.Clients(), adapter.Rooms(), adapter.Queue(), gatherer)
		go func() {
			if err := adminServer.Serve(ctx); err != nil {
				logger.Error("Admin endpoint failed", "error", err)
			}
		}()
	}

	if err := adapter.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Tag(logger.TagServer, "=== Server shutdown complete ===")
	return nil
}
