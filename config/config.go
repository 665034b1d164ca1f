package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/joho/godotenv"
)

// Acquisition modes.
const (
	ModeFetch      = "fetch"
	ModeScreenshot = "screenshot"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scroll    ScrollConfig
	Selector  SelectorConfig
	Acquire   AcquireConfig
	Result    ResultConfig
	Notice    NoticeConfig
	LLM       LLMConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig

	// ScanTimeout bounds a whole scan (attach through analysis).
	ScanTimeout time.Duration // default: 5m

	// ProfilePath is an optional YAML site profile applied by Load.
	ProfilePath string
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls how the running browser is reached.
type BrowserConfig struct {
	// DebugURL is the remote-debugging endpoint of an already running browser.
	DebugURL string // default: "http://localhost:9222"

	// TitleMarkers selects the target tab: the first tab whose title
	// contains any marker wins, otherwise the first tab is used.
	TitleMarkers []string // default: ["쿠팡", "Coupang"]

	// BringToFront activates the chosen tab (best-effort).
	BringToFront bool // default: true

	// Stealth injects anti-automation-detection JS before navigation.
	Stealth bool // default: false

	// NavigationTimeout bounds a single navigation attempt.
	NavigationTimeout time.Duration // default: 15s

	// NavigationRetries is the number of retries after a failed navigation.
	NavigationRetries int // default: 2
}

// ScrollConfig controls the scroll completion detector.
type ScrollConfig struct {
	Step        float64       // default: 5000 (pixels per wheel step)
	Wait        time.Duration // default: 1s
	MaxSteps    int           // default: 60
	MaxDuration time.Duration // default: 2m
}

// SelectorConfig controls candidate selection.
type SelectorConfig struct {
	// Queries are tried in order, most specific first.
	Queries []string

	MinWidth  float64 // default: 400
	MinHeight float64 // default: 100

	// Confidence stops widening the search once this many candidates exist.
	Confidence int // default: 3

	// MaxCandidates caps the selected candidates.
	MaxCandidates int // default: 15

	// SkipAdHosts drops candidates whose src points at a known ad domain.
	SkipAdHosts bool // default: true
}

// AcquireConfig controls the image acquirer.
type AcquireConfig struct {
	// Mode is "fetch" (declared source through the page's session) or
	// "screenshot" (element capture).
	Mode string // default: "fetch"

	// SettleDelay is the wait after scrolling an element into view.
	SettleDelay time.Duration // default: 300ms

	// Timeout bounds each acquisition attempt.
	Timeout time.Duration // default: 15s

	// MaxBytes caps a fetched image body.
	MaxBytes int64 // default: 10 MiB

	// ScreenshotQuality is the JPEG quality; 0 captures PNG.
	ScreenshotQuality int // default: 90
}

// ResultConfig controls deduplication and bounding.
type ResultConfig struct {
	// MaxImages is the number of images handed to the extraction capability.
	MaxImages int // default: 15

	// DedupDistance is the perceptual-hash Hamming distance at or below
	// which two images count as duplicates. Byte-identical images are
	// always dropped; a negative value leaves it at that.
	DedupDistance int // default: -1
}

// NoticeConfig controls the product information table extraction.
type NoticeConfig struct {
	// Selector matches the product notice section; empty disables it.
	Selector string

	// MaxTokens caps the Markdown sent to the extraction capability.
	MaxTokens int // default: 4000
}

// LLMConfig controls the extraction capability client.
type LLMConfig struct {
	APIKey string // GEMINI_API_KEY, required for analysis

	Model string // default: "gemini-2.5-flash"

	// PromptFile overrides the built-in instruction template.
	PromptFile string

	// Timeout is the maximum elapsed time including retries.
	Timeout time.Duration // default: 2m
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting. Every scan drives the
// user's real browser, so the defaults are deliberately low.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 1
	Burst             int     // default: 2
}

// CacheConfig controls the analysis report cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached reports.
	MaxEntries int // default: 256
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// DefaultQueries is the built-in candidate query list.
var DefaultQueries = []string{
	"#productDetail img",
	".product-detail-content img",
	".detail-item img",
	"img",
}

// DefaultNoticeSelector matches the product information tables of the
// default marketing site.
const DefaultNoticeSelector = ".product-item__table, .prod-delivery-return-policy-table, #itemBrief"

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host: envOr("LABELSCAN_HOST", "0.0.0.0"),
			Port: envIntOr("LABELSCAN_PORT", 8080),
			Mode: envOr("LABELSCAN_MODE", "release"),
		},
		Browser: BrowserConfig{
			DebugURL:          envOr("LABELSCAN_DEBUG_URL", "http://localhost:9222"),
			TitleMarkers:      envSliceOr("LABELSCAN_TITLE_MARKERS", []string{"쿠팡", "Coupang"}),
			BringToFront:      envBoolOr("LABELSCAN_BRING_TO_FRONT", true),
			Stealth:           envBoolOr("LABELSCAN_STEALTH", false),
			NavigationTimeout: envDurationOr("LABELSCAN_NAV_TIMEOUT", 15*time.Second),
			NavigationRetries: envIntOr("LABELSCAN_NAV_RETRIES", 2),
		},
		Scroll: ScrollConfig{
			Step:        envFloatOr("LABELSCAN_SCROLL_STEP", 5000),
			Wait:        envDurationOr("LABELSCAN_SCROLL_WAIT", time.Second),
			MaxSteps:    envIntOr("LABELSCAN_SCROLL_MAX_STEPS", 60),
			MaxDuration: envDurationOr("LABELSCAN_SCROLL_MAX_DURATION", 2*time.Minute),
		},
		Selector: SelectorConfig{
			Queries:       envSliceOr("LABELSCAN_QUERIES", DefaultQueries),
			MinWidth:      envFloatOr("LABELSCAN_MIN_WIDTH", 400),
			MinHeight:     envFloatOr("LABELSCAN_MIN_HEIGHT", 100),
			Confidence:    envIntOr("LABELSCAN_CONFIDENCE", 3),
			MaxCandidates: envIntOr("LABELSCAN_MAX_CANDIDATES", 15),
			SkipAdHosts:   envBoolOr("LABELSCAN_SKIP_AD_HOSTS", true),
		},
		Acquire: AcquireConfig{
			Mode:              envOr("LABELSCAN_ACQUIRE_MODE", ModeFetch),
			SettleDelay:       envDurationOr("LABELSCAN_SETTLE_DELAY", 300*time.Millisecond),
			Timeout:           envDurationOr("LABELSCAN_ACQUIRE_TIMEOUT", 15*time.Second),
			MaxBytes:          int64(envIntOr("LABELSCAN_MAX_IMAGE_BYTES", 10*1024*1024)),
			ScreenshotQuality: envIntOr("LABELSCAN_SCREENSHOT_QUALITY", 90),
		},
		Result: ResultConfig{
			MaxImages:     envIntOr("LABELSCAN_MAX_IMAGES", 15),
			DedupDistance: envIntOr("LABELSCAN_DEDUP_DISTANCE", -1),
		},
		Notice: NoticeConfig{
			Selector:  envOr("LABELSCAN_NOTICE_SELECTOR", DefaultNoticeSelector),
			MaxTokens: envIntOr("LABELSCAN_NOTICE_MAX_TOKENS", 4000),
		},
		LLM: LLMConfig{
			APIKey:     os.Getenv("GEMINI_API_KEY"),
			Model:      envOr("LABELSCAN_MODEL", "gemini-2.5-flash"),
			PromptFile: os.Getenv("LABELSCAN_PROMPT_FILE"),
			Timeout:    envDurationOr("LABELSCAN_LLM_TIMEOUT", 2*time.Minute),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("LABELSCAN_AUTH_ENABLED", true),
			APIKeys: envSliceOr("LABELSCAN_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("LABELSCAN_RATE_RPS", 1),
			Burst:             envIntOr("LABELSCAN_RATE_BURST", 2),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("LABELSCAN_CACHE_MAX_ENTRIES", 256),
		},
		Log: LogConfig{
			Level:  envOr("LABELSCAN_LOG_LEVEL", "info"),
			Format: envOr("LABELSCAN_LOG_FORMAT", "text"),
		},
		ScanTimeout: envDurationOr("LABELSCAN_SCAN_TIMEOUT", 5*time.Minute),
		ProfilePath: os.Getenv("LABELSCAN_PROFILE"),
	}

	if cfg.ProfilePath != "" {
		p, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		p.Apply(cfg)
	}
	return cfg, nil
}

// ErrMissingAPIKey is returned by RequireAPIKey when GEMINI_API_KEY is unset.
var ErrMissingAPIKey = errors.New("config: GEMINI_API_KEY is not set")

// RequireAPIKey fails when the extraction capability has no credential.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Validate checks value ranges and compiles every CSS query.
func (c *Config) Validate() error {
	var errs []error

	if c.Browser.DebugURL == "" {
		errs = append(errs, errors.New("debug URL must not be empty"))
	}
	if c.Scroll.Step <= 0 {
		errs = append(errs, fmt.Errorf("scroll step must be positive, got %v", c.Scroll.Step))
	}
	if c.Scroll.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("scroll max steps must be >= 1, got %d", c.Scroll.MaxSteps))
	}
	if c.Scroll.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("scroll max duration must be positive, got %s", c.Scroll.MaxDuration))
	}
	if len(c.Selector.Queries) == 0 {
		errs = append(errs, errors.New("at least one selector query is required"))
	}
	for _, q := range c.Selector.Queries {
		if _, err := cascadia.Compile(q); err != nil {
			errs = append(errs, fmt.Errorf("selector query %q: %w", q, err))
		}
	}
	if c.Notice.Selector != "" {
		if _, err := cascadia.ParseGroup(c.Notice.Selector); err != nil {
			errs = append(errs, fmt.Errorf("notice selector %q: %w", c.Notice.Selector, err))
		}
	}
	if c.Selector.Confidence < 1 {
		errs = append(errs, fmt.Errorf("confidence must be >= 1, got %d", c.Selector.Confidence))
	}
	if c.Selector.MaxCandidates < 1 {
		errs = append(errs, fmt.Errorf("max candidates must be >= 1, got %d", c.Selector.MaxCandidates))
	}
	if c.Acquire.Mode != ModeFetch && c.Acquire.Mode != ModeScreenshot {
		errs = append(errs, fmt.Errorf("acquire mode must be %q or %q, got %q", ModeFetch, ModeScreenshot, c.Acquire.Mode))
	}
	if c.Acquire.ScreenshotQuality < 0 || c.Acquire.ScreenshotQuality > 100 {
		errs = append(errs, fmt.Errorf("screenshot quality must be within 0..100, got %d", c.Acquire.ScreenshotQuality))
	}
	if c.Result.MaxImages < 1 {
		errs = append(errs, fmt.Errorf("max images must be >= 1, got %d", c.Result.MaxImages))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
