package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Scheduling
	ScanInterval     time.Duration // how often to scan for upcoming races
	LeadTime         time.Duration // process each race this long before the off
	ResultCheckDelay time.Duration // check results this long after the off
	SweepInterval    time.Duration // result tracker wake cadence

	// Mode
	DryRun bool
	Debug  bool

	// Betfair API
	BetfairAppKey   string
	BetfairUsername string
	BetfairPassword string
	BetfairCertFile string
	BetfairKeyFile  string
	BetfairAPIURL   string
	BetfairLoginURL string
	BetfairTimeout  time.Duration

	// Market filter
	CountryCodes []string

	// Strategy
	MidrangeMinOdds decimal.Decimal
	MidrangeMaxOdds decimal.Decimal
	MidrangeMinProb float64
	MidrangeStake   decimal.Decimal
	LongshotMinOdds decimal.Decimal
	LongshotMaxOdds decimal.Decimal
	LongshotMinProb float64
	LongshotHiProb  float64
	LongshotStake   decimal.Decimal

	// Risk limits (zero disables)
	MaxBetsPerSession  int
	MaxSessionExposure decimal.Decimal

	// Persistence
	DatabaseURL string

	// Session logs
	LogDir string

	// Telegram
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Scheduling
		ScanInterval:     getEnvDuration("SCAN_INTERVAL", 15*time.Minute),
		LeadTime:         getEnvDuration("LEAD_TIME", time.Minute),
		ResultCheckDelay: getEnvDuration("RESULT_CHECK_DELAY", 45*time.Minute),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", time.Minute),

		// Mode
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		// Betfair API
		BetfairAppKey:   os.Getenv("BETFAIR_APP_KEY"),
		BetfairUsername: os.Getenv("BETFAIR_USERNAME"),
		BetfairPassword: os.Getenv("BETFAIR_PASSWORD"),
		BetfairCertFile: os.Getenv("BETFAIR_CERT_PATH"),
		BetfairKeyFile:  os.Getenv("BETFAIR_KEY_PATH"),
		BetfairAPIURL:   getEnv("BETFAIR_API_URL", "https://api.betfair.com/exchange/betting/json-rpc/v1"),
		BetfairLoginURL: getEnv("BETFAIR_LOGIN_URL", "https://identitysso-cert.betfair.com/api/certlogin"),
		BetfairTimeout:  getEnvDuration("BETFAIR_TIMEOUT", 30*time.Second),

		// Market filter
		CountryCodes: getEnvList("COUNTRY_CODES", []string{"GB"}),

		// Strategy
		MidrangeMinOdds: getEnvDecimal("MIDRANGE_MIN_ODDS", decimal.NewFromFloat(5.0)),
		MidrangeMaxOdds: getEnvDecimal("MIDRANGE_MAX_ODDS", decimal.NewFromFloat(10.0)),
		MidrangeMinProb: getEnvFloat("MIDRANGE_MIN_PROB", 0.35),
		MidrangeStake:   getEnvDecimal("MIDRANGE_STAKE", decimal.NewFromFloat(10.0)),
		LongshotMinOdds: getEnvDecimal("LONGSHOT_MIN_ODDS", decimal.NewFromFloat(10.0)),
		LongshotMaxOdds: getEnvDecimal("LONGSHOT_MAX_ODDS", decimal.NewFromFloat(20.0)),
		LongshotMinProb: getEnvFloat("LONGSHOT_MIN_PROB", 0.25),
		LongshotHiProb:  getEnvFloat("LONGSHOT_HI_PROB", 0.30),
		LongshotStake:   getEnvDecimal("LONGSHOT_STAKE", decimal.NewFromFloat(5.0)),

		// Risk limits
		MaxBetsPerSession:  getEnvInt("MAX_BETS_PER_SESSION", 50),
		MaxSessionExposure: getEnvDecimal("MAX_SESSION_EXPOSURE", decimal.NewFromFloat(500.0)),

		// Persistence (optional - empty disables the database)
		DatabaseURL: os.Getenv("DATABASE_URL"),

		// Session logs
		LogDir: getEnv("LOG_DIR", "logs/traphound"),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints. A lead time at or above the scan
// interval means a race can slip between two scans without ever being armed,
// so it is rejected outright.
func (c *Config) Validate() error {
	if c.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive, got %v", c.ScanInterval)
	}
	if c.LeadTime <= 0 {
		return fmt.Errorf("LEAD_TIME must be positive, got %v", c.LeadTime)
	}
	if c.LeadTime >= c.ScanInterval {
		return fmt.Errorf("LEAD_TIME (%v) must be less than SCAN_INTERVAL (%v)", c.LeadTime, c.ScanInterval)
	}
	if c.ResultCheckDelay <= 0 {
		return fmt.Errorf("RESULT_CHECK_DELAY must be positive, got %v", c.ResultCheckDelay)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.SweepInterval)
	}
	if len(c.CountryCodes) == 0 {
		return fmt.Errorf("COUNTRY_CODES must contain at least one country")
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
