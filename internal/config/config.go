package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Port         int    `yaml:"port"`
	DataDir      string `yaml:"data_dir"`
	StoreBackend string `yaml:"store_backend"` // file or sqlite
	Format       string `yaml:"snapshot_format"`
	DBPath       string `yaml:"db_path"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
	UserAgent string `yaml:"user_agent"`

	RetailerBaseURL  string  `yaml:"retailer_base_url"`
	RetailerMaxPages int     `yaml:"retailer_max_pages"`
	RetailerFanOut   int     `yaml:"retailer_fan_out"`
	RetailerRPS      float64 `yaml:"retailer_rps"`
	MinLocalPrice    string  `yaml:"min_local_price"`

	MarketBaseURL  string  `yaml:"market_base_url"`
	MarketMinPrice string  `yaml:"market_min_price"`
	MarketRPS      float64 `yaml:"market_rps"`
	EURToUSD       string  `yaml:"eur_to_usd"`

	EDHRECBaseURL          string        `yaml:"edhrec_base_url"`
	RecommendationLimit    int           `yaml:"recommendation_limit"`
	RecommendationCacheTTL time.Duration `yaml:"recommendation_cache_ttl"`
	BudgetMaxPrice         string        `yaml:"budget_max_price"`
	ExpensiveMinPrice      string        `yaml:"expensive_min_price"`

	ExchangeRateURL string        `yaml:"exchange_rate_url"`
	NOKPerUSD       string        `yaml:"nok_per_usd"`
	RateTTL         time.Duration `yaml:"rate_ttl"`

	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMultiplier  float64       `yaml:"retry_multiplier"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`

	AcquisitionTimeout time.Duration `yaml:"acquisition_timeout"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	UpdateSchedule     string        `yaml:"update_schedule"`
	AutoUpdate         bool          `yaml:"auto_update"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	APIRateLimit       float64  `yaml:"api_rate_limit"` // requests per second per client, 0 = off
	APIRateBurst       int      `yaml:"api_rate_burst"`
	FrontendDistPath   string   `yaml:"frontend_dist_path"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:         8080,
		DataDir:      "./data",
		StoreBackend: "file",
		Format:       "json",
		LogLevel:     "info",
		UserAgent:    "mtg-finder/1.0",

		RetailerMaxPages: 500,
		RetailerFanOut:   8,
		RetailerRPS:      4,
		MinLocalPrice:    "5",

		MarketMinPrice: "0.5",
		MarketRPS:      8, // Scryfall asks for 50-100ms between requests
		EURToUSD:       "1.05",

		RecommendationLimit:    0,
		RecommendationCacheTTL: time.Hour,
		BudgetMaxPrice:         "20",
		ExpensiveMinPrice:      "200",

		NOKPerUSD: "11.0",
		RateTTL:   12 * time.Hour,

		RetryMaxAttempts: 5,
		RetryBaseDelay:   time.Second,
		RetryMultiplier:  2,
		RetryMaxDelay:    time.Minute,

		AcquisitionTimeout: 45 * time.Minute,
		StalenessThreshold: 7 * 24 * time.Hour,
		UpdateSchedule:     "0 1 * * 0", // Sundays 01:00
		AutoUpdate:         true,

		CORSAllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		APIRateLimit:       5,
		APIRateBurst:       10,
	}
}

// Load reads configuration from defaults, an optional YAML file named by CONFIG_FILE,
// and environment variables, in increasing precedence.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.Format = getEnv("SNAPSHOT_FORMAT", c.Format)
	c.DBPath = getEnv("DB_PATH", c.DBPath)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogPretty = getEnvAsBool("LOG_PRETTY", c.LogPretty)
	c.UserAgent = getEnv("USER_AGENT", c.UserAgent)

	c.RetailerBaseURL = getEnv("RETAILER_BASE_URL", c.RetailerBaseURL)
	c.RetailerMaxPages = getEnvAsInt("RETAILER_MAX_PAGES", c.RetailerMaxPages)
	c.RetailerFanOut = getEnvAsInt("RETAILER_FAN_OUT", c.RetailerFanOut)
	c.RetailerRPS = getEnvAsFloat("RETAILER_RPS", c.RetailerRPS)
	c.MinLocalPrice = getEnv("MIN_LOCAL_PRICE", c.MinLocalPrice)

	c.MarketBaseURL = getEnv("MARKET_BASE_URL", c.MarketBaseURL)
	c.MarketMinPrice = getEnv("MARKET_MIN_PRICE", c.MarketMinPrice)
	c.MarketRPS = getEnvAsFloat("MARKET_RPS", c.MarketRPS)
	c.EURToUSD = getEnv("EUR_TO_USD", c.EURToUSD)

	c.EDHRECBaseURL = getEnv("EDHREC_BASE_URL", c.EDHRECBaseURL)
	c.RecommendationLimit = getEnvAsInt("RECOMMENDATION_LIMIT", c.RecommendationLimit)
	c.RecommendationCacheTTL = getEnvAsDuration("RECOMMENDATION_CACHE_TTL", c.RecommendationCacheTTL)
	c.BudgetMaxPrice = getEnv("BUDGET_MAX_PRICE", c.BudgetMaxPrice)
	c.ExpensiveMinPrice = getEnv("EXPENSIVE_MIN_PRICE", c.ExpensiveMinPrice)

	c.ExchangeRateURL = getEnv("EXCHANGE_RATE_URL", c.ExchangeRateURL)
	c.NOKPerUSD = getEnv("NOK_PER_USD", c.NOKPerUSD)
	c.RateTTL = getEnvAsDuration("RATE_TTL", c.RateTTL)

	c.RetryMaxAttempts = getEnvAsInt("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	c.RetryBaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryMultiplier = getEnvAsFloat("RETRY_MULTIPLIER", c.RetryMultiplier)
	c.RetryMaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", c.RetryMaxDelay)

	c.AcquisitionTimeout = getEnvAsDuration("ACQUISITION_TIMEOUT", c.AcquisitionTimeout)
	c.StalenessThreshold = getEnvAsDuration("STALENESS_THRESHOLD", c.StalenessThreshold)
	c.UpdateSchedule = getEnv("UPDATE_SCHEDULE", c.UpdateSchedule)
	c.AutoUpdate = getEnvAsBool("AUTO_UPDATE", c.AutoUpdate)

	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.CORSAllowedOrigins = splitList(origins)
	}
	c.APIRateLimit = getEnvAsFloat("API_RATE_LIMIT", c.APIRateLimit)
	c.APIRateBurst = getEnvAsInt("API_RATE_BURST", c.APIRateBurst)
	c.FrontendDistPath = getEnv("FRONTEND_DIST_PATH", c.FrontendDistPath)

	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "mtg_finder.db")
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.StoreBackend {
	case "file":
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required for the file store")
		}
		if c.Format != "json" && c.Format != "msgpack" {
			return fmt.Errorf("SNAPSHOT_FORMAT must be json or msgpack, got %q", c.Format)
		}
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be file or sqlite, got %q", c.StoreBackend)
	}

	if c.RetailerMaxPages <= 0 {
		return fmt.Errorf("RETAILER_MAX_PAGES must be positive")
	}
	if c.RetailerFanOut <= 0 {
		return fmt.Errorf("RETAILER_FAN_OUT must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.RetryMultiplier < 1 {
		return fmt.Errorf("RETRY_MULTIPLIER must be at least 1")
	}

	for name, v := range map[string]string{
		"MIN_LOCAL_PRICE":     c.MinLocalPrice,
		"MARKET_MIN_PRICE":    c.MarketMinPrice,
		"EUR_TO_USD":          c.EURToUSD,
		"NOK_PER_USD":         c.NOKPerUSD,
		"BUDGET_MAX_PRICE":    c.BudgetMaxPrice,
		"EXPENSIVE_MIN_PRICE": c.ExpensiveMinPrice,
	} {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%s is not a number: %q", name, v)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if !c.Decimal(c.NOKPerUSD).IsPositive() {
		return fmt.Errorf("NOK_PER_USD must be positive")
	}
	return nil
}

// Decimal parses a validated decimal setting
func (c *Config) Decimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	return d
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
