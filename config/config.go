package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"fvgbot/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Broker API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Streams
	Symbols    []string
	Timeframes []domain.Timeframe

	// Gap detection
	MinGapSize         float64       // Absolute minimum gap size in price units
	MaxGapSize         float64       // Absolute maximum gap size in price units
	BodyRatioThreshold float64       // Minimum body/range ratio for the impulse candle
	MaxActiveGaps      int           // Most recent Active gaps retained per stream
	MaxGapAge          time.Duration // Active gaps older than this are expired

	// Confluence scoring weights and retention threshold.
	// The weights are empirically chosen defaults carried over from the
	// original system; they are configurable pending proper calibration.
	ConfluenceThreshold       float64
	ConfluenceTimeWeight      float64
	ConfluencePriceWeight     float64
	ConfluenceDirectionWeight float64
	ConfluenceSizeWeight      float64

	// Quality scoring weights (same calibration caveat as above).
	QualitySizeWeight      float64
	QualityStructureWeight float64
	QualityContextWeight   float64
	QualityVolumeWeight    float64
	PipSize                float64 // Price units per pip for the traded symbols
	MinQualityScore        float64 // Minimum quality score to parameterize an order

	// Order parameterization
	MinRiskReward           float64
	TargetRiskReward        float64
	BaseVolume              float64
	MaxVolume               float64
	VolumeStep              float64 // Instrument minimum volume step
	BaseExpiryHours         float64
	QualityExpiryMultiplier float64
	MaxConcurrentPerSymbol  int

	// Order lifecycle monitoring
	PollInterval    time.Duration
	PollWorkers     int
	OrderQueueSize  int
	MaxPollFailures int
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration

	// Aggregation cycle
	AggregationInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Metrics
	MetricsAddr string // Empty disables the /metrics listener

	// Connection settings for the broker client
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// LoadConfig loads configuration from environment variables (.env file).
// Threshold values outside their domain are fatal: the pipeline refuses to
// initialize rather than trade on a misconfigured rule set.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Broker API
	cfg.APIKey = getEnv("BROKER_API_KEY", "")
	cfg.SecretKey = getEnv("BROKER_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BROKER_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BROKER_API_SECRET must be set")
	}

	// Streams
	cfg.Symbols = splitList(getEnv("SYMBOLS", "ETHUSDT"))
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	for _, tf := range splitList(getEnv("TIMEFRAMES", "5m,15m,1h")) {
		timeframe := domain.Timeframe(tf)
		if timeframe.Duration() == 0 {
			errs = append(errs, fmt.Sprintf("unsupported timeframe %q in TIMEFRAMES", tf))
			continue
		}
		cfg.Timeframes = append(cfg.Timeframes, timeframe)
	}
	if len(cfg.Timeframes) == 0 {
		errs = append(errs, "TIMEFRAMES must list at least one timeframe")
	}

	// Gap detection
	cfg.MinGapSize, err = getEnvAsFloatRequired("MIN_GAP_SIZE", 0.0001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_GAP_SIZE: %v", err))
	} else if cfg.MinGapSize <= 0 {
		errs = append(errs, "MIN_GAP_SIZE must be positive")
	}

	cfg.MaxGapSize, err = getEnvAsFloatRequired("MAX_GAP_SIZE", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_GAP_SIZE: %v", err))
	} else if cfg.MaxGapSize <= cfg.MinGapSize {
		errs = append(errs, "MAX_GAP_SIZE must be greater than MIN_GAP_SIZE")
	}

	cfg.BodyRatioThreshold, err = getEnvAsFloatRequired("BODY_RATIO_THRESHOLD", 0.7)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BODY_RATIO_THRESHOLD: %v", err))
	} else if cfg.BodyRatioThreshold <= 0 || cfg.BodyRatioThreshold > 1 {
		errs = append(errs, "BODY_RATIO_THRESHOLD must be in (0, 1]")
	}

	cfg.MaxActiveGaps = getEnvAsInt("MAX_ACTIVE_GAPS", 20)
	if cfg.MaxActiveGaps <= 0 {
		errs = append(errs, "MAX_ACTIVE_GAPS must be positive")
	}

	maxGapAgeHours := getEnvAsFloat("MAX_GAP_AGE_HOURS", 72.0)
	if maxGapAgeHours <= 0 {
		errs = append(errs, "MAX_GAP_AGE_HOURS must be positive")
	}
	cfg.MaxGapAge = time.Duration(maxGapAgeHours * float64(time.Hour))

	// Confluence
	cfg.ConfluenceThreshold, err = getEnvAsFloatRequired("CONFLUENCE_THRESHOLD", 7.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid CONFLUENCE_THRESHOLD: %v", err))
	} else if cfg.ConfluenceThreshold < 0 || cfg.ConfluenceThreshold > 10 {
		errs = append(errs, "CONFLUENCE_THRESHOLD must be in [0, 10]")
	}
	cfg.ConfluenceTimeWeight = getEnvAsFloat("CONFLUENCE_TIME_WEIGHT", 0.3)
	cfg.ConfluencePriceWeight = getEnvAsFloat("CONFLUENCE_PRICE_WEIGHT", 0.4)
	cfg.ConfluenceDirectionWeight = getEnvAsFloat("CONFLUENCE_DIRECTION_WEIGHT", 0.2)
	cfg.ConfluenceSizeWeight = getEnvAsFloat("CONFLUENCE_SIZE_WEIGHT", 0.1)
	if cfg.ConfluenceTimeWeight < 0 || cfg.ConfluencePriceWeight < 0 || cfg.ConfluenceDirectionWeight < 0 || cfg.ConfluenceSizeWeight < 0 {
		errs = append(errs, "confluence weights must be non-negative")
	}

	// Quality
	cfg.QualitySizeWeight = getEnvAsFloat("QUALITY_SIZE_WEIGHT", 0.2)
	cfg.QualityStructureWeight = getEnvAsFloat("QUALITY_STRUCTURE_WEIGHT", 0.3)
	cfg.QualityContextWeight = getEnvAsFloat("QUALITY_CONTEXT_WEIGHT", 0.3)
	cfg.QualityVolumeWeight = getEnvAsFloat("QUALITY_VOLUME_WEIGHT", 0.2)
	if cfg.QualitySizeWeight < 0 || cfg.QualityStructureWeight < 0 || cfg.QualityContextWeight < 0 || cfg.QualityVolumeWeight < 0 {
		errs = append(errs, "quality weights must be non-negative")
	}

	cfg.PipSize, err = getEnvAsFloatRequired("PIP_SIZE", 0.0001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PIP_SIZE: %v", err))
	} else if cfg.PipSize <= 0 {
		errs = append(errs, "PIP_SIZE must be positive")
	}

	cfg.MinQualityScore = getEnvAsFloat("MIN_QUALITY_SCORE", 5.5)
	if cfg.MinQualityScore < 0 || cfg.MinQualityScore > 10 {
		errs = append(errs, "MIN_QUALITY_SCORE must be in [0, 10]")
	}

	// Order parameterization
	cfg.MinRiskReward, err = getEnvAsFloatRequired("MIN_RISK_REWARD", 1.5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_RISK_REWARD: %v", err))
	} else if cfg.MinRiskReward < 1.0 {
		errs = append(errs, "MIN_RISK_REWARD must be at least 1.0")
	}

	cfg.TargetRiskReward = getEnvAsFloat("TARGET_RISK_REWARD", 2.0)
	if cfg.TargetRiskReward <= 0 {
		errs = append(errs, "TARGET_RISK_REWARD must be positive")
	}

	cfg.BaseVolume, err = getEnvAsFloatRequired("BASE_VOLUME", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BASE_VOLUME: %v", err))
	} else if cfg.BaseVolume <= 0 {
		errs = append(errs, "BASE_VOLUME must be positive")
	}

	cfg.MaxVolume, err = getEnvAsFloatRequired("MAX_VOLUME", 0.10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_VOLUME: %v", err))
	} else if cfg.MaxVolume < cfg.BaseVolume {
		errs = append(errs, "MAX_VOLUME must be at least BASE_VOLUME")
	}

	cfg.VolumeStep, err = getEnvAsFloatRequired("VOLUME_STEP", 0.001)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid VOLUME_STEP: %v", err))
	} else if cfg.VolumeStep <= 0 {
		errs = append(errs, "VOLUME_STEP must be positive")
	}

	cfg.BaseExpiryHours = getEnvAsFloat("BASE_EXPIRY_HOURS", 4.0)
	if cfg.BaseExpiryHours <= 0 {
		errs = append(errs, "BASE_EXPIRY_HOURS must be positive")
	}

	cfg.QualityExpiryMultiplier = getEnvAsFloat("QUALITY_EXPIRY_MULTIPLIER", 1.0)
	if cfg.QualityExpiryMultiplier < 0 {
		errs = append(errs, "QUALITY_EXPIRY_MULTIPLIER cannot be negative")
	}

	cfg.MaxConcurrentPerSymbol, err = getEnvAsIntRequired("MAX_CONCURRENT_PER_SYMBOL", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_CONCURRENT_PER_SYMBOL: %v", err))
	} else if cfg.MaxConcurrentPerSymbol <= 0 {
		errs = append(errs, "MAX_CONCURRENT_PER_SYMBOL must be positive")
	}

	// Lifecycle monitoring
	pollIntervalSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 10)
	if pollIntervalSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollIntervalSeconds) * time.Second

	cfg.PollWorkers = getEnvAsInt("POLL_WORKERS", 4)
	if cfg.PollWorkers <= 0 {
		errs = append(errs, "POLL_WORKERS must be positive")
	}

	cfg.OrderQueueSize = getEnvAsInt("ORDER_QUEUE_SIZE", 64)
	if cfg.OrderQueueSize <= 0 {
		errs = append(errs, "ORDER_QUEUE_SIZE must be positive")
	}

	cfg.MaxPollFailures = getEnvAsInt("MAX_POLL_FAILURES", 5)
	if cfg.MaxPollFailures <= 0 {
		errs = append(errs, "MAX_POLL_FAILURES must be positive")
	}

	retryMinMs := getEnvAsInt("RETRY_MIN_BACKOFF_MS", 500)
	retryMaxMs := getEnvAsInt("RETRY_MAX_BACKOFF_MS", 30000)
	if retryMinMs <= 0 || retryMaxMs < retryMinMs {
		errs = append(errs, "RETRY_MIN_BACKOFF_MS must be positive and RETRY_MAX_BACKOFF_MS must not be smaller")
	}
	cfg.RetryMinBackoff = time.Duration(retryMinMs) * time.Millisecond
	cfg.RetryMaxBackoff = time.Duration(retryMaxMs) * time.Millisecond

	// Aggregation cycle
	aggSeconds := getEnvAsInt("AGGREGATION_INTERVAL_SECONDS", 60)
	if aggSeconds <= 0 {
		errs = append(errs, "AGGREGATION_INTERVAL_SECONDS must be positive")
	}
	cfg.AggregationInterval = time.Duration(aggSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/fvgbot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "json")

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	// Connection settings
	reconnectDelaySeconds := getEnvAsInt("RECONNECT_DELAY_SECONDS", 5)
	if reconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	cfg.ReconnectDelay = time.Duration(reconnectDelaySeconds) * time.Second

	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
