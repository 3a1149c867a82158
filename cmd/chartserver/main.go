// Command chartserver hosts the chart generation tools as a remote tool
// service. Charts are rendered by an n8n workflow; comparison charts fall
// back to QuickChart URLs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	cbmcp "github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/mcp"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/adapter/n8n"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/config"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/logger"
	"github.com/AndresestradaR/MCP-Dropshipping/internal/resilience"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logCfg := cfg.Logging
	logCfg.Service = "chartserver"
	log, closeLog := logger.New(logCfg)
	defer closeLog.Close()
	slog.SetDefault(log)

	if cfg.Chart.WebhookURL == "" {
		slog.Warn("chart webhook not configured, generate_chart will fail")
	}

	breaker := resilience.NewBreaker("n8n", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	renderer := n8n.NewClient(cfg.Chart.WebhookURL, cfg.Chart.Timeout, breaker)

	srv := cbmcp.NewServer(cbmcp.ServerConfig{
		Addr:    cfg.Chart.Addr,
		Name:    "graficos",
		Version: version,
		APIKey:  cfg.Chart.APIKey,
	}, cbmcp.ChartTools(renderer, cbmcp.DefaultQuickChartURL)...)

	if err := srv.Start(); err != nil {
		return err
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	slog.Info("shutting down chart server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
