// Package config loads the runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine. CLI flags in cmd override
// individual fields after Load.
type Config struct {
	// Market
	Coin            string
	IntervalMinutes int

	// Trigger
	DropThreshold   decimal.Decimal
	LookbackSeconds int
	MaxHistory      int

	// Exits
	TakeProfitDelta decimal.Decimal
	StopLossDelta   decimal.Decimal
	MaxPositions    int

	// Sizing
	SizePercent decimal.Decimal // percent of available bankroll
	FixedStake  decimal.Decimal // USD, used when SizePercent is zero

	// Risk
	MaxDrawdownPercent decimal.Decimal
	DrawdownOnEquity   bool

	// Session
	Demo          bool
	RunHours      int
	StartBankroll decimal.Decimal
	StatePath     string

	// Cadence
	TickInterval        time.Duration
	SnapshotInterval    time.Duration
	MarketCheckInterval time.Duration
	PollInterval        time.Duration
	ReconnectDelay      time.Duration

	// Execution realism
	Realism bool

	// Endpoints
	GammaAPIURL string
	CLOBURL     string
	WSURL       string

	// CLOB credentials (live mode only)
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Run log
	RunLogEnabled bool
	RunLogDir     string

	// Database
	DatabasePath string

	// Mode
	Debug bool
}

// Load reads configuration from environment variables with defaults suitable
// for a 15-minute ETH demo session.
func Load() *Config {
	return &Config{
		Coin:            getEnv("COIN", "ETH"),
		IntervalMinutes: getEnvInt("INTERVAL_MINUTES", 15),

		DropThreshold:   getEnvDecimal("DROP_THRESHOLD", decimal.NewFromFloat(0.10)),
		LookbackSeconds: getEnvInt("LOOKBACK_SECONDS", 10),
		MaxHistory:      getEnvInt("MAX_HISTORY", 100),

		TakeProfitDelta: getEnvDecimal("TAKE_PROFIT_DELTA", decimal.NewFromFloat(0.05)),
		StopLossDelta:   getEnvDecimal("STOP_LOSS_DELTA", decimal.NewFromFloat(0.10)),
		MaxPositions:    getEnvInt("MAX_POSITIONS", 1),

		SizePercent: getEnvDecimal("SIZE_PERCENT", decimal.Zero),
		FixedStake:  getEnvDecimal("FIXED_STAKE", decimal.Zero),

		MaxDrawdownPercent: getEnvDecimal("MAX_DRAWDOWN_PERCENT", decimal.NewFromInt(30)),
		DrawdownOnEquity:   getEnvBool("DRAWDOWN_ON_EQUITY", false),

		Demo:          getEnvBool("DEMO", true),
		RunHours:      getEnvInt("RUN_HOURS", 6),
		StartBankroll: getEnvDecimal("START_BANKROLL", decimal.NewFromInt(20)),
		StatePath:     getEnv("STATE_PATH", "data/demo_state.json"),

		TickInterval:        getEnvDuration("TICK_INTERVAL", time.Second),
		SnapshotInterval:    getEnvDuration("SNAPSHOT_INTERVAL", 30*time.Second),
		MarketCheckInterval: getEnvDuration("MARKET_CHECK_INTERVAL", 30*time.Second),
		PollInterval:        getEnvDuration("POLL_INTERVAL", 5*time.Second),
		ReconnectDelay:      getEnvDuration("RECONNECT_DELAY", 10*time.Second),

		Realism: getEnvBool("EXECUTION_REALISM", true),

		GammaAPIURL: getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		CLOBURL:     getEnv("CLOB_URL", "https://clob.polymarket.com"),
		WSURL:       getEnv("WS_URL", ""),

		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		RunLogEnabled: getEnvBool("RUN_LOG_ENABLED", true),
		RunLogDir:     getEnv("RUN_LOG_DIR", "runlogs"),

		DatabasePath: getEnv("DATABASE_PATH", "data/flashcrash.db"),

		Debug: getEnvBool("DEBUG", false),
	}
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
