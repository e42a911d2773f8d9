package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// Load is the only function that reads environment variables.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	Database  DatabaseConfig
	Redis     RedisConfig
	Eastmoney EastmoneyConfig
	Sina      SinaConfig
	Auth      AuthConfig
	Scan      ScanConfig
	Model     ModelConfig

	// RecorderPath is the sqlite file used to record CLI scans. Empty disables it.
	RecorderPath string

	// Logging
	LogLevel  string
	LogFormat string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	Required bool

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// EastmoneyConfig holds quote API endpoints and client pacing
type EastmoneyConfig struct {
	ListURL  string // clist paging endpoint
	QuoteURL string // single-stock snapshot endpoint
	KlineURL string // push2his kline endpoint
	RPS      float64
	Timeout  time.Duration
}

// SinaConfig holds the company profile site
type SinaConfig struct {
	BaseURL string
}

// AuthConfig holds token and registration settings
type AuthConfig struct {
	JWTSecret      string
	AccessTokenTTL time.Duration
	InviteRequired bool

	// Bootstrap super-tier account, created at API start when both are set
	AdminUsername string
	AdminPassword string
}

// ScanConfig holds scan defaults and tier limits
type ScanConfig struct {
	MinMatchScore float64
	MaxMarketCap  float64 // 亿 CNY, 0 disables the filter
	BatchSize     int
	Workers       int
	StockTimeout  time.Duration
	CapTimeout    time.Duration
	ProgressTTL   time.Duration
	FreeStartHour int // Beijing hour after which free users may scan
}

// ModelConfig locates the trained model and the bull-stock roster
type ModelConfig struct {
	Path       string
	RosterPath string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Required:        getEnvAsBool("DB_REQUIRED", true),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},

		Eastmoney: EastmoneyConfig{
			ListURL:  getEnv("EASTMONEY_LIST_URL", "https://82.push2.eastmoney.com/api/qt/clist/get"),
			QuoteURL: getEnv("EASTMONEY_QUOTE_URL", "https://push2.eastmoney.com/api/qt/stock/get"),
			KlineURL: getEnv("EASTMONEY_KLINE_URL", "https://push2his.eastmoney.com/api/qt/stock/kline/get"),
			RPS:      getEnvAsFloat("EASTMONEY_RPS", 5),
			Timeout:  getEnvAsDuration("EASTMONEY_TIMEOUT", "10s"),
		},

		Sina: SinaConfig{
			BaseURL: getEnv("SINA_BASE_URL", "https://vip.stock.finance.sina.com.cn"),
		},

		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", ""),
			AccessTokenTTL: getEnvAsDuration("ACCESS_TOKEN_TTL", "72h"),
			InviteRequired: getEnvAsBool("INVITE_REQUIRED", false),
			AdminUsername:  getEnv("ADMIN_USERNAME", ""),
			AdminPassword:  getEnv("ADMIN_PASSWORD", ""),
		},

		Scan: ScanConfig{
			MinMatchScore: getEnvAsFloat("SCAN_MIN_MATCH_SCORE", 0.93),
			MaxMarketCap:  getEnvAsFloat("SCAN_MAX_MARKET_CAP", 100),
			BatchSize:     getEnvAsInt("SCAN_BATCH_SIZE", 200),
			Workers:       getEnvAsInt("SCAN_WORKERS", 5),
			StockTimeout:  getEnvAsDuration("SCAN_STOCK_TIMEOUT", "10s"),
			CapTimeout:    getEnvAsDuration("SCAN_CAP_TIMEOUT", "5s"),
			ProgressTTL:   getEnvAsDuration("SCAN_PROGRESS_TTL", "24h"),
			FreeStartHour: getEnvAsInt("SCAN_FREE_START_HOUR", 15),
		},

		Model: ModelConfig{
			Path:       getEnv("MODEL_PATH", "trained_model.json"),
			RosterPath: getEnv("ROSTER_PATH", "config/bull_stocks.yaml"),
		},

		RecorderPath: getEnv("RECORDER_PATH", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Database.Required && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required (set DB_REQUIRED=false to run without postgres)")
	}

	if c.Env == "production" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}

	if c.Scan.MinMatchScore < 0 || c.Scan.MinMatchScore > 1 {
		return fmt.Errorf("SCAN_MIN_MATCH_SCORE must be within [0,1], got %v", c.Scan.MinMatchScore)
	}

	if c.Scan.Workers <= 0 {
		c.Scan.Workers = 1
	}
	if c.Scan.BatchSize <= 0 {
		c.Scan.BatchSize = 200
	}

	return nil
}

// HasDatabase reports whether a postgres URL is configured
func (c *Config) HasDatabase() bool {
	return c.Database.URL != ""
}

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
		"backend/.env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
