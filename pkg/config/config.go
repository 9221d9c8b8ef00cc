package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Storage
	Database DatabaseConfig
	Redis    RedisConfig
	Backup   BackupConfig

	// Market / Broker
	Binance BinanceConfig

	// Advisory sources
	Advisory AdvisoryConfig

	// Trading loop
	Trading TradingConfig
	Cycle   CycleConfig

	// Logging
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
	Prefix   string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// BackupConfig selects the durable tier that mirrors every ledger write
type BackupConfig struct {
	Driver     string // badger, postgres, memory
	BadgerPath string
}

// BinanceConfig holds exchange credentials and stream settings
type BinanceConfig struct {
	APIKey        string
	SecretKey     string
	Testnet       bool
	QuoteAsset    string
	StreamURL     string
	StreamEnabled bool
	PriceCacheTTL time.Duration
	FeedTimeout   time.Duration
	OrderTimeout  time.Duration
}

// AdvisoryConfig holds advisory source endpoints and the consensus policy
type AdvisoryConfig struct {
	PrimaryURL   string
	SecondaryURL string
	APIKey       string
	Policy       string // require_all, require_any, "" = auto
	Timeout      time.Duration
	Pace         time.Duration
	RateLimit    int // requests per minute through redis limiter, 0 = off

	GeminiAPIKey string
	GeminiModel  string
}

// TradingConfig holds acquisition sizing and scanner settings
type TradingConfig struct {
	Mode                  string // paper, live
	NotionalUSD           string
	MaxOpenPositions      int
	MaxCandidatesPerCycle int
	ScannerConfigPath     string
	ShuffleWindow         int // 0 = deterministic candidate order
	MonitorInterval       time.Duration
}

// CycleConfig holds scan cadence and target escalation bounds
type CycleConfig struct {
	IntervalMinutes  int
	TargetFloorPct   int
	TargetStepPct    int
	TargetCeilingPct int
	WakeOnDisposal   bool
	AutoStart        bool
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Prefix:   getEnv("REDIS_PREFIX", "cyclebot"),
		},

		Backup: BackupConfig{
			Driver:     strings.ToLower(getEnv("BACKUP_DRIVER", "badger")),
			BadgerPath: getEnv("BADGER_PATH", "data/backup"),
		},

		Binance: BinanceConfig{
			APIKey:        getEnv("BINANCE_API_KEY", ""),
			SecretKey:     getEnv("BINANCE_SECRET_KEY", ""),
			Testnet:       getEnvAsBool("BINANCE_TESTNET", false),
			QuoteAsset:    strings.ToUpper(getEnv("QUOTE_ASSET", "USDT")),
			StreamURL:     getEnv("PRICE_STREAM_URL", "wss://stream.binance.com:9443/ws/!miniTicker@arr"),
			StreamEnabled: getEnvAsBool("PRICE_STREAM_ENABLED", true),
			PriceCacheTTL: getEnvAsDuration("PRICE_CACHE_TTL", "2m"),
			FeedTimeout:   getEnvAsDuration("FEED_TIMEOUT", "15s"),
			OrderTimeout:  getEnvAsDuration("ORDER_TIMEOUT", "10s"),
		},

		Advisory: AdvisoryConfig{
			PrimaryURL:   getEnv("ADVISORY_PRIMARY_URL", ""),
			SecondaryURL: getEnv("ADVISORY_SECONDARY_URL", ""),
			APIKey:       getEnv("ADVISORY_API_KEY", ""),
			Policy:       strings.ToLower(getEnv("ADVISORY_POLICY", "")),
			Timeout:      getEnvAsDuration("ADVISORY_TIMEOUT", "5s"),
			Pace:         getEnvAsDuration("ADVISORY_PACE", "2s"),
			RateLimit:    getEnvAsInt("ADVISORY_RATE_LIMIT", 0),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		},

		Trading: TradingConfig{
			Mode:                  strings.ToLower(getEnv("TRADING_MODE", "paper")),
			NotionalUSD:           getEnv("NOTIONAL_USD", "5"),
			MaxOpenPositions:      getEnvAsInt("MAX_OPEN_POSITIONS", 10),
			MaxCandidatesPerCycle: getEnvAsInt("MAX_CANDIDATES_PER_CYCLE", 5),
			ScannerConfigPath:     getEnv("SCANNER_CONFIG", ""),
			ShuffleWindow:         getEnvAsInt("SCANNER_SHUFFLE_WINDOW", 0),
			MonitorInterval:       getEnvAsDuration("MONITOR_INTERVAL", "30s"),
		},

		Cycle: CycleConfig{
			IntervalMinutes:  getEnvAsInt("CYCLE_INTERVAL_MINUTES", 60),
			TargetFloorPct:   getEnvAsInt("TARGET_FLOOR_PCT", 3),
			TargetStepPct:    getEnvAsInt("TARGET_STEP_PCT", 2),
			TargetCeilingPct: getEnvAsInt("TARGET_CEILING_PCT", 15),
			WakeOnDisposal:   getEnvAsBool("WAKE_ON_DISPOSAL", true),
			AutoStart:        getEnvAsBool("CYCLE_AUTO_START", false),
		},

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 30),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// IsLive reports whether orders go to the exchange
func (c *Config) IsLive() bool {
	return c.Trading.Mode == "live"
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Backup.Driver {
	case "badger", "memory":
	case "postgres":
		// 백업 티어가 postgres면 DATABASE_URL 필수
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when BACKUP_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("BACKUP_DRIVER must be one of: badger, postgres, memory")
	}

	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		return fmt.Errorf("TRADING_MODE must be one of: paper, live")
	}
	if c.IsLive() && (c.Binance.APIKey == "" || c.Binance.SecretKey == "") {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required in live mode")
	}

	switch c.Advisory.Policy {
	case "", "require_all", "require_any":
	default:
		return fmt.Errorf("ADVISORY_POLICY must be one of: require_all, require_any")
	}

	if c.Cycle.IntervalMinutes < 1 {
		return fmt.Errorf("CYCLE_INTERVAL_MINUTES must be >= 1")
	}
	if c.Cycle.TargetStepPct < 1 {
		return fmt.Errorf("TARGET_STEP_PCT must be >= 1")
	}
	if c.Cycle.TargetFloorPct < 1 || c.Cycle.TargetFloorPct > c.Cycle.TargetCeilingPct {
		return fmt.Errorf("TARGET_FLOOR_PCT must be >= 1 and <= TARGET_CEILING_PCT")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
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
