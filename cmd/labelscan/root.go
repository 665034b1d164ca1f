package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/use-agent/labelscan/cache"
	"github.com/use-agent/labelscan/config"
	"github.com/use-agent/labelscan/llm"
	"github.com/use-agent/labelscan/metrics"
	"github.com/use-agent/labelscan/scraper"
)

var rootFlags struct {
	debugURL string
	profile  string
	logLevel string
	model    string
}

var rootCmd = &cobra.Command{
	Use:   "labelscan",
	Short: "labelscan reads product detail images from your browser and summarises the label.",
	Long: `labelscan attaches to an already running browser over its remote-debugging
endpoint, harvests the product detail images of the open product page and asks
Gemini for a structured ingredient and nutrition report.

Start the browser with --remote-debugging-port=9222 and log in as usual first.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.debugURL, "debug-url", "", "browser remote-debugging endpoint (LABELSCAN_DEBUG_URL)")
	pf.StringVar(&rootFlags.profile, "profile", "", "YAML site profile (LABELSCAN_PROFILE)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "", "debug, info, warn or error (LABELSCAN_LOG_LEVEL)")
	pf.StringVar(&rootFlags.model, "model", "", "Gemini model (LABELSCAN_MODEL)")
}

// loadConfig reads the environment, applies the persistent flags and
// installs the logger.
func loadConfig() (*config.Config, error) {
	if rootFlags.profile != "" {
		os.Setenv("LABELSCAN_PROFILE", rootFlags.profile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if rootFlags.debugURL != "" {
		cfg.Browser.DebugURL = rootFlags.debugURL
	}
	if rootFlags.logLevel != "" {
		cfg.Log.Level = rootFlags.logLevel
	}
	if rootFlags.model != "" {
		cfg.LLM.Model = rootFlags.model
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initLogger(cfg.Log, os.Stderr)
	return cfg, nil
}

// newLLMClient builds the extraction client. A missing API key fails here,
// before the browser is touched.
func newLLMClient(ctx context.Context, cfg *config.Config) (*llm.Client, error) {
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}
	prompt, err := llm.LoadPrompt(cfg.LLM.PromptFile)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(ctx, cfg.LLM.APIKey, llm.Options{
		Model:      cfg.LLM.Model,
		Prompt:     prompt,
		MaxElapsed: cfg.LLM.Timeout,
	})
}

// newScraper wires the orchestrator. Without analysis no extraction client
// is built and no API key is needed. The caller closes the returned cache.
func newScraper(ctx context.Context, cfg *config.Config, m *metrics.Metrics, withAnalysis bool) (*scraper.Scraper, *cache.Cache, error) {
	var analyzer scraper.Analyzer
	if withAnalysis {
		client, err := newLLMClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		analyzer = client
	}
	cc := cache.New(cfg.Cache.MaxEntries)
	return scraper.New(cfg, analyzer, cc, m), cc, nil
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig, w io.Writer) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}
