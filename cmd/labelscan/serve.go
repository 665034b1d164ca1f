package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/labelscan/api"
	"github.com/use-agent/labelscan/metrics"
	"github.com/use-agent/labelscan/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// ── 1. Configuration ────────────────────────────────────────────
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("labelscan starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"debug_url", cfg.Browser.DebugURL,
		"model", cfg.LLM.Model,
	)
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth is enabled but LABELSCAN_API_KEYS is empty; the API is open")
	}

	// ── 2. Scraper, cache, metrics ──────────────────────────────────
	m := metrics.New()
	sc, cc, err := newScraper(ctx, cfg, m, true)
	if err != nil {
		return err
	}
	defer cc.Close()

	if err := sc.Ping(); err != nil {
		slog.Warn("browser is not reachable yet; scans will fail until it is", "error", err)
	}

	// ── 3. Router + HTTP server ─────────────────────────────────────
	router := api.NewRouter(sc, webhook.NewSender(), m.Handler(), cfg)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// ── 4. Graceful shutdown ────────────────────────────────────────
	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	// Scans drive a real browser; give in-flight ones time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	slog.Info("labelscan stopped")
	return nil
}
