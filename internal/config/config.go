// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/touchline/internal/modules/settings"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Symbol       string        // Ticker the engine watches
	PollInterval time.Duration // Engine tick period

	PolygonAPIKey    string
	PolygonBaseURL   string
	PolygonStreamURL string
	StreamEnabled    bool
	YahooFallback    bool
	ProviderTimeout  time.Duration // Upper bound on any single provider call
	PriceStaleAfter  time.Duration // Max age of a last-known-good quote

	StartingCash float64
	PositionQty  float64

	ModelPath string // Optional JSON linear model for base scores

	Backup BackupConfig
	Tuning Tuning
}

// BackupConfig points the scheduled snapshot job at an S3-compatible bucket.
// Backups are skipped when Bucket is empty.
type BackupConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Schedule        string
	RetentionDays   int
}

// Enabled reports whether uploads are configured.
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Tuning collects every threshold of the detection and scoring pipeline.
type Tuning struct {
	ContactTolerance float64 // Touch test for live polling
	ScanTolerance    float64 // Touch test for coarse scans
	ReactionEpsilon  float64 // Band in which a reaction is classified
	ConfluenceBand   float64 // Other-color level distance that counts as confluence

	HighVolume           float64
	MidVolume            float64
	HighVolumeConfidence float64
	MidVolumeConfidence  float64
	BaseConfidence       float64
	HesitationConfidence float64
	NoReactionConfidence float64

	BestDirectionMargin     float64
	BestDirectionMinWinRate float64
	RequireEdge             bool // Enter only patterns with a recommended direction

	MemoryMinSeen       int
	MemoryWinRateWeight float64
	MemoryAvgConfWeight float64
	RejectPenalty       float64
	ReviewPenalty       float64
	FeedbackWindow      int

	TimingWindow time.Duration
	MinVolume    float64
	Slippage     float64

	MaxLossPct   float64
	TargetOffset float64
	StopFactor   float64 // Stop distance as a fraction of TargetOffset

	MacroEMAPeriod      int
	ResilienceWindow    int
	ResilienceRetention time.Duration
}

// DefaultTuning returns the stock thresholds.
func DefaultTuning() Tuning {
	return Tuning{
		ContactTolerance: 0.05,
		ScanTolerance:    0.3,
		ReactionEpsilon:  0.02,
		ConfluenceBand:   0.4,

		HighVolume:           100000,
		MidVolume:            50000,
		HighVolumeConfidence: 0.85,
		MidVolumeConfidence:  0.70,
		BaseConfidence:       0.50,
		HesitationConfidence: 0.40,
		NoReactionConfidence: 0.20,

		BestDirectionMargin:     0.1,
		BestDirectionMinWinRate: 0.55,
		RequireEdge:             true,

		MemoryMinSeen:       5,
		MemoryWinRateWeight: 0.4,
		MemoryAvgConfWeight: 0.2,
		RejectPenalty:       0.1,
		ReviewPenalty:       0.05,
		FeedbackWindow:      50,

		TimingWindow: 2 * time.Minute,
		MinVolume:    25000,
		Slippage:     0.25,

		MaxLossPct:   0.30,
		TargetOffset: 1.2,
		StopFactor:   0.6,

		MacroEMAPeriod:      20,
		ResilienceWindow:    10,
		ResilienceRetention: 30 * 24 * time.Hour,
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TOUCHLINE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		Symbol:       strings.ToUpper(getEnv("TOUCHLINE_SYMBOL", "SPY")),
		PollInterval: getEnvAsDuration("POLL_INTERVAL", 100*time.Millisecond),

		PolygonAPIKey:    getEnv("POLYGON_API_KEY", ""),
		PolygonBaseURL:   getEnv("POLYGON_BASE_URL", "https://api.polygon.io"),
		PolygonStreamURL: getEnv("POLYGON_STREAM_URL", "wss://socket.polygon.io/stocks"),
		StreamEnabled:    getEnvAsBool("POLYGON_STREAM", false),
		YahooFallback:    getEnvAsBool("YAHOO_FALLBACK", true),
		ProviderTimeout:  getEnvAsDuration("PROVIDER_TIMEOUT", 2*time.Second),
		PriceStaleAfter:  getEnvAsDuration("PRICE_STALE_AFTER", 30*time.Second),

		StartingCash: getEnvAsFloat("STARTING_CASH", 10000),
		PositionQty:  getEnvAsFloat("POSITION_QTY", 1),

		ModelPath: getEnv("MODEL_PATH", ""),

		Backup: BackupConfig{
			Bucket:          getEnv("BACKUP_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
			Region:          getEnv("BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
			Schedule:        getEnv("BACKUP_SCHEDULE", "0 30 2 * * *"),
			RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		Tuning: loadTuning(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadTuning() Tuning {
	t := DefaultTuning()
	t.ContactTolerance = getEnvAsFloat("CONTACT_TOLERANCE", t.ContactTolerance)
	t.ScanTolerance = getEnvAsFloat("SCAN_TOLERANCE", t.ScanTolerance)
	t.ReactionEpsilon = getEnvAsFloat("REACTION_EPSILON", t.ReactionEpsilon)
	t.ConfluenceBand = getEnvAsFloat("CONFLUENCE_BAND", t.ConfluenceBand)
	t.BestDirectionMargin = getEnvAsFloat("BEST_DIRECTION_MARGIN", t.BestDirectionMargin)
	t.BestDirectionMinWinRate = getEnvAsFloat("BEST_DIRECTION_MIN_WIN_RATE", t.BestDirectionMinWinRate)
	t.RequireEdge = getEnvAsBool("REQUIRE_EDGE", t.RequireEdge)
	t.MemoryMinSeen = getEnvAsInt("MEMORY_MIN_SEEN", t.MemoryMinSeen)
	t.FeedbackWindow = getEnvAsInt("FEEDBACK_WINDOW", t.FeedbackWindow)
	t.TimingWindow = getEnvAsDuration("ENTRY_TIMING_WINDOW", t.TimingWindow)
	t.MinVolume = getEnvAsFloat("ENTRY_MIN_VOLUME", t.MinVolume)
	t.Slippage = getEnvAsFloat("ENTRY_SLIPPAGE", t.Slippage)
	t.MaxLossPct = getEnvAsFloat("MAX_LOSS_PCT", t.MaxLossPct)
	t.TargetOffset = getEnvAsFloat("TARGET_OFFSET", t.TargetOffset)
	t.StopFactor = getEnvAsFloat("STOP_FACTOR", t.StopFactor)
	t.MacroEMAPeriod = getEnvAsInt("MACRO_EMA_PERIOD", t.MacroEMAPeriod)
	return t
}

// UpdateFromSettings updates configuration from settings database
// Settings DB values take precedence over environment variables
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	apiKey, err := settingsRepo.Get(settings.KeyPolygonAPIKey)
	if err != nil {
		return fmt.Errorf("failed to get %s from settings: %w", settings.KeyPolygonAPIKey, err)
	}
	if apiKey != nil && *apiKey != "" {
		c.PolygonAPIKey = *apiKey
	}

	symbol, err := settingsRepo.Get(settings.KeySymbol)
	if err != nil {
		return fmt.Errorf("failed to get %s from settings: %w", settings.KeySymbol, err)
	}
	if symbol != nil && *symbol != "" {
		c.Symbol = strings.ToUpper(*symbol)
	}

	maxLoss, err := settingsRepo.GetFloat(settings.KeyMaxLossPct, c.Tuning.MaxLossPct)
	if err != nil {
		return fmt.Errorf("failed to get %s from settings: %w", settings.KeyMaxLossPct, err)
	}
	c.Tuning.MaxLossPct = maxLoss

	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.ProviderTimeout <= 0 || c.ProviderTimeout > 30*time.Second {
		return fmt.Errorf("provider timeout must be in (0, 30s], got %s", c.ProviderTimeout)
	}
	if c.Tuning.ReactionEpsilon > c.Tuning.ContactTolerance {
		return fmt.Errorf("reaction epsilon (%.4f) must not exceed contact tolerance (%.4f)",
			c.Tuning.ReactionEpsilon, c.Tuning.ContactTolerance)
	}
	if c.Tuning.MaxLossPct <= 0 || c.Tuning.MaxLossPct >= 1 {
		return fmt.Errorf("max loss pct must be in (0, 1), got %.4f", c.Tuning.MaxLossPct)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
