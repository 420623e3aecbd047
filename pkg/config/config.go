package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Execution and storage modes.
const (
	ExecutionModePaper = "paper"
	ExecutionModeLive  = "live"

	StorageModeMemory   = "memory"
	StorageModeSQLite   = "sqlite"
	StorageModePostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel          string `yaml:"log_level"`
	LogFile           string `yaml:"log_file"`
	LogFileMaxSizeMB  int    `yaml:"log_file_max_size_mb"`
	LogFileMaxBackups int    `yaml:"log_file_max_backups"`
	LogFileMaxAgeDays int    `yaml:"log_file_max_age_days"`
	HTTPPort          string `yaml:"http_port"`

	// Polymarket API
	PolymarketWSURL         string  `yaml:"polymarket_ws_url"`
	PolymarketGammaURL      string  `yaml:"polymarket_gamma_api_url"`
	PolymarketCLOBURL       string  `yaml:"polymarket_clob_url"`
	PolymarketAPIKey        string  `yaml:"polymarket_api_key"`
	PolymarketSecret        string  `yaml:"polymarket_secret"`
	PolymarketPassphrase    string  `yaml:"polymarket_passphrase"`
	PolymarketPrivateKey    string  `yaml:"polymarket_private_key"`
	PolymarketProxyAddress  string  `yaml:"polymarket_proxy_address"`
	PolymarketSignatureType int     `yaml:"polymarket_signature_type"`
	CLOBRateLimit           float64 `yaml:"clob_rate_limit"`
	CLOBBurst               int     `yaml:"clob_burst"`

	// Wallet (live mode)
	PolygonRPCURL      string        `yaml:"polygon_rpc_url"`
	WalletMinUSDC      float64       `yaml:"wallet_min_usdc"`
	WalletPollInterval time.Duration `yaml:"wallet_poll_interval"`

	// Market Discovery
	DiscoveryPollInterval time.Duration `yaml:"discovery_poll_interval"`
	DiscoveryMarketLimit  int           `yaml:"discovery_market_limit"`
	DiscoveryCacheTTL     time.Duration `yaml:"discovery_cache_ttl"`

	// WebSocket
	WSDialTimeout           time.Duration `yaml:"ws_dial_timeout"`
	WSPongTimeout           time.Duration `yaml:"ws_pong_timeout"`
	WSPingInterval          time.Duration `yaml:"ws_ping_interval"`
	WSReconnectInitialDelay time.Duration `yaml:"ws_reconnect_initial_delay"`
	WSReconnectMaxDelay     time.Duration `yaml:"ws_reconnect_max_delay"`
	WSReconnectBackoffMult  float64       `yaml:"ws_reconnect_backoff_multiplier"`
	WSMessageBufferSize     int           `yaml:"ws_message_buffer_size"`

	// Order books and arbitrage detection
	ArbMinEdge          float64       `yaml:"arb_min_edge"`
	ArbScanMode         string        `yaml:"arb_scan_mode"`
	ArbScanInterval     time.Duration `yaml:"arb_scan_interval"`
	ArbOrderSize        float64       `yaml:"arb_order_size"`
	ArbMaxOrderSize     float64       `yaml:"arb_max_order_size"`
	ArbMinLiquidity     float64       `yaml:"arb_min_liquidity"`
	BookStaleness       time.Duration `yaml:"book_staleness"`
	BookRefreshInterval time.Duration `yaml:"book_refresh_interval"`

	// Risk
	RiskMaxExposure          float64       `yaml:"risk_max_exposure"`
	RiskMaxMarketExposure    float64       `yaml:"risk_max_market_exposure"`
	RiskMaxOpenCycles        int           `yaml:"risk_max_open_cycles"`
	RiskMaxDailyLoss         float64       `yaml:"risk_max_daily_loss"`
	RiskMaxConsecutiveLosses int           `yaml:"risk_max_consecutive_losses"`
	RiskCooldown             time.Duration `yaml:"risk_cooldown"`
	RiskDayBoundaryCron      string        `yaml:"risk_day_boundary_cron"`

	// Execution
	ExecutionMode          string        `yaml:"execution_mode"`
	StartPaused            bool          `yaml:"start_paused"`
	ExecFillTimeout        time.Duration `yaml:"exec_fill_timeout"`
	ExecPollInitial        time.Duration `yaml:"exec_poll_initial"`
	ExecPollMax            time.Duration `yaml:"exec_poll_max"`
	ExecPollMultiplier     float64       `yaml:"exec_poll_mult"`
	ExecSubmitAttempts     int           `yaml:"exec_submit_attempts"`
	ExecRetryBackoff       time.Duration `yaml:"exec_retry_backoff"`
	ExecRemediationTimeout time.Duration `yaml:"exec_remediation_timeout"`
	ExecRemediationRetries int           `yaml:"exec_remediation_attempts"`
	ExecTakerFee           float64       `yaml:"exec_taker_fee"`
	PaperMatchInterval     time.Duration `yaml:"paper_match_interval"`

	// Storage
	StorageMode          string        `yaml:"storage_mode"`
	StorageWriteAttempts int           `yaml:"storage_write_attempts"`
	StorageRetryBackoff  time.Duration `yaml:"storage_retry_backoff"`
	SQLitePath           string        `yaml:"sqlite_path"`
	PostgresHost         string        `yaml:"postgres_host"`
	PostgresPort         string        `yaml:"postgres_port"`
	PostgresUser         string        `yaml:"postgres_user"`
	PostgresPass         string        `yaml:"postgres_password"`
	PostgresDB           string        `yaml:"postgres_db"`
	PostgresSSL          string        `yaml:"postgres_sslmode"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:          "info",
		LogFileMaxSizeMB:  100,
		LogFileMaxBackups: 5,
		LogFileMaxAgeDays: 28,
		HTTPPort:          "8080",

		PolymarketWSURL:    "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		PolymarketGammaURL: "https://gamma-api.polymarket.com",
		PolymarketCLOBURL:  "https://clob.polymarket.com",
		CLOBRateLimit:      10,
		CLOBBurst:          5,

		WalletPollInterval: time.Minute,

		DiscoveryPollInterval: 30 * time.Second,
		DiscoveryMarketLimit:  50,
		DiscoveryCacheTTL:     10 * time.Minute,

		WSDialTimeout:           10 * time.Second,
		WSPongTimeout:           15 * time.Second,
		WSPingInterval:          10 * time.Second,
		WSReconnectInitialDelay: 1 * time.Second,
		WSReconnectMaxDelay:     30 * time.Second,
		WSReconnectBackoffMult:  2.0,
		WSMessageBufferSize:     1000,

		ArbMinEdge:          0.02,
		ArbScanMode:         "event",
		ArbScanInterval:     500 * time.Millisecond,
		ArbOrderSize:        10,
		ArbMaxOrderSize:     100,
		ArbMinLiquidity:     5,
		BookStaleness:       2 * time.Second,
		BookRefreshInterval: 5 * time.Second,

		RiskMaxExposure:          1000,
		RiskMaxMarketExposure:    100,
		RiskMaxOpenCycles:        20,
		RiskMaxDailyLoss:         50,
		RiskMaxConsecutiveLosses: 5,
		RiskCooldown:             5 * time.Minute,
		RiskDayBoundaryCron:      "0 0 0 * * *",

		ExecutionMode:          ExecutionModePaper,
		ExecFillTimeout:        5 * time.Second,
		ExecPollInitial:        100 * time.Millisecond,
		ExecPollMax:            1 * time.Second,
		ExecPollMultiplier:     2,
		ExecSubmitAttempts:     3,
		ExecRetryBackoff:       200 * time.Millisecond,
		ExecRemediationTimeout: 10 * time.Second,
		ExecRemediationRetries: 3,
		ExecTakerFee:           0,
		PaperMatchInterval:     250 * time.Millisecond,

		StorageMode:          StorageModeSQLite,
		StorageWriteAttempts: 5,
		StorageRetryBackoff:  100 * time.Millisecond,
		SQLitePath:           "binary-arb.db",
		PostgresHost:         "localhost",
		PostgresPort:         "5432",
		PostgresUser:         "binaryarb",
		PostgresPass:         "binaryarb",
		PostgresDB:           "binary_arb",
		PostgresSSL:          "disable",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or CONFIG_FILE when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from defaults and environment variables.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnvOrDefault("LOG_FILE", c.LogFile)
	c.LogFileMaxSizeMB = getIntOrDefault("LOG_FILE_MAX_SIZE_MB", c.LogFileMaxSizeMB)
	c.LogFileMaxBackups = getIntOrDefault("LOG_FILE_MAX_BACKUPS", c.LogFileMaxBackups)
	c.LogFileMaxAgeDays = getIntOrDefault("LOG_FILE_MAX_AGE_DAYS", c.LogFileMaxAgeDays)
	c.HTTPPort = getEnvOrDefault("HTTP_PORT", c.HTTPPort)

	c.PolymarketWSURL = getEnvOrDefault("POLYMARKET_WS_URL", c.PolymarketWSURL)
	c.PolymarketGammaURL = getEnvOrDefault("POLYMARKET_GAMMA_API_URL", c.PolymarketGammaURL)
	c.PolymarketCLOBURL = getEnvOrDefault("POLYMARKET_CLOB_URL", c.PolymarketCLOBURL)
	c.PolymarketAPIKey = getEnvOrDefault("POLYMARKET_API_KEY", c.PolymarketAPIKey)
	c.PolymarketSecret = getEnvOrDefault("POLYMARKET_SECRET", c.PolymarketSecret)
	c.PolymarketPassphrase = getEnvOrDefault("POLYMARKET_PASSPHRASE", c.PolymarketPassphrase)
	c.PolymarketPrivateKey = getEnvOrDefault("POLYMARKET_PRIVATE_KEY", c.PolymarketPrivateKey)
	c.PolymarketProxyAddress = getEnvOrDefault("POLYMARKET_PROXY_ADDRESS", c.PolymarketProxyAddress)
	c.PolymarketSignatureType = getIntOrDefault("POLYMARKET_SIGNATURE_TYPE", c.PolymarketSignatureType)
	c.CLOBRateLimit = getFloat64OrDefault("CLOB_RATE_LIMIT", c.CLOBRateLimit)
	c.CLOBBurst = getIntOrDefault("CLOB_BURST", c.CLOBBurst)

	c.PolygonRPCURL = getEnvOrDefault("POLYGON_RPC_URL", c.PolygonRPCURL)
	c.WalletMinUSDC = getFloat64OrDefault("WALLET_MIN_USDC", c.WalletMinUSDC)
	c.WalletPollInterval = getDurationOrDefault("WALLET_POLL_INTERVAL", c.WalletPollInterval)

	c.DiscoveryPollInterval = getDurationOrDefault("DISCOVERY_POLL_INTERVAL", c.DiscoveryPollInterval)
	c.DiscoveryMarketLimit = getIntOrDefault("DISCOVERY_MARKET_LIMIT", c.DiscoveryMarketLimit)
	c.DiscoveryCacheTTL = getDurationOrDefault("DISCOVERY_CACHE_TTL", c.DiscoveryCacheTTL)

	c.WSDialTimeout = getDurationOrDefault("WS_DIAL_TIMEOUT", c.WSDialTimeout)
	c.WSPongTimeout = getDurationOrDefault("WS_PONG_TIMEOUT", c.WSPongTimeout)
	c.WSPingInterval = getDurationOrDefault("WS_PING_INTERVAL", c.WSPingInterval)
	c.WSReconnectInitialDelay = getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", c.WSReconnectInitialDelay)
	c.WSReconnectMaxDelay = getDurationOrDefault("WS_RECONNECT_MAX_DELAY", c.WSReconnectMaxDelay)
	c.WSReconnectBackoffMult = getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", c.WSReconnectBackoffMult)
	c.WSMessageBufferSize = getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", c.WSMessageBufferSize)

	c.ArbMinEdge = getFloat64OrDefault("ARB_MIN_EDGE", c.ArbMinEdge)
	c.ArbScanMode = getEnvOrDefault("ARB_SCAN_MODE", c.ArbScanMode)
	c.ArbScanInterval = getDurationOrDefault("ARB_SCAN_INTERVAL", c.ArbScanInterval)
	c.ArbOrderSize = getFloat64OrDefault("ARB_ORDER_SIZE", c.ArbOrderSize)
	c.ArbMaxOrderSize = getFloat64OrDefault("ARB_MAX_ORDER_SIZE", c.ArbMaxOrderSize)
	c.ArbMinLiquidity = getFloat64OrDefault("ARB_MIN_LIQUIDITY", c.ArbMinLiquidity)
	c.BookStaleness = getDurationOrDefault("BOOK_STALENESS", c.BookStaleness)
	c.BookRefreshInterval = getDurationOrDefault("BOOK_REFRESH_INTERVAL", c.BookRefreshInterval)

	c.RiskMaxExposure = getFloat64OrDefault("RISK_MAX_EXPOSURE", c.RiskMaxExposure)
	c.RiskMaxMarketExposure = getFloat64OrDefault("RISK_MAX_MARKET_EXPOSURE", c.RiskMaxMarketExposure)
	c.RiskMaxOpenCycles = getIntOrDefault("RISK_MAX_OPEN_CYCLES", c.RiskMaxOpenCycles)
	c.RiskMaxDailyLoss = getFloat64OrDefault("RISK_MAX_DAILY_LOSS", c.RiskMaxDailyLoss)
	c.RiskMaxConsecutiveLosses = getIntOrDefault("RISK_MAX_CONSECUTIVE_LOSSES", c.RiskMaxConsecutiveLosses)
	c.RiskCooldown = getDurationOrDefault("RISK_COOLDOWN", c.RiskCooldown)
	c.RiskDayBoundaryCron = getEnvOrDefault("RISK_DAY_BOUNDARY_CRON", c.RiskDayBoundaryCron)

	c.ExecutionMode = getEnvOrDefault("EXECUTION_MODE", c.ExecutionMode)
	c.StartPaused = getBoolOrDefault("START_PAUSED", c.StartPaused)
	c.ExecFillTimeout = getDurationOrDefault("EXEC_FILL_TIMEOUT", c.ExecFillTimeout)
	c.ExecPollInitial = getDurationOrDefault("EXEC_POLL_INITIAL", c.ExecPollInitial)
	c.ExecPollMax = getDurationOrDefault("EXEC_POLL_MAX", c.ExecPollMax)
	c.ExecPollMultiplier = getFloat64OrDefault("EXEC_POLL_MULT", c.ExecPollMultiplier)
	c.ExecSubmitAttempts = getIntOrDefault("EXEC_SUBMIT_ATTEMPTS", c.ExecSubmitAttempts)
	c.ExecRetryBackoff = getDurationOrDefault("EXEC_RETRY_BACKOFF", c.ExecRetryBackoff)
	c.ExecRemediationTimeout = getDurationOrDefault("EXEC_REMEDIATION_TIMEOUT", c.ExecRemediationTimeout)
	c.ExecRemediationRetries = getIntOrDefault("EXEC_REMEDIATION_ATTEMPTS", c.ExecRemediationRetries)
	c.ExecTakerFee = getFloat64OrDefault("EXEC_TAKER_FEE", c.ExecTakerFee)
	c.PaperMatchInterval = getDurationOrDefault("PAPER_MATCH_INTERVAL", c.PaperMatchInterval)

	c.StorageMode = getEnvOrDefault("STORAGE_MODE", c.StorageMode)
	c.StorageWriteAttempts = getIntOrDefault("STORAGE_WRITE_ATTEMPTS", c.StorageWriteAttempts)
	c.StorageRetryBackoff = getDurationOrDefault("STORAGE_RETRY_BACKOFF", c.StorageRetryBackoff)
	c.SQLitePath = getEnvOrDefault("SQLITE_PATH", c.SQLitePath)
	c.PostgresHost = getEnvOrDefault("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnvOrDefault("POSTGRES_PORT", c.PostgresPort)
	c.PostgresUser = getEnvOrDefault("POSTGRES_USER", c.PostgresUser)
	c.PostgresPass = getEnvOrDefault("POSTGRES_PASSWORD", c.PostgresPass)
	c.PostgresDB = getEnvOrDefault("POSTGRES_DB", c.PostgresDB)
	c.PostgresSSL = getEnvOrDefault("POSTGRES_SSLMODE", c.PostgresSSL)
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.PolymarketWSURL == "" {
		return fmt.Errorf("POLYMARKET_WS_URL cannot be empty")
	}

	if c.PolymarketGammaURL == "" {
		return fmt.Errorf("POLYMARKET_GAMMA_API_URL cannot be empty")
	}

	if c.WalletMinUSDC < 0 {
		return fmt.Errorf("WALLET_MIN_USDC cannot be negative, got %f", c.WalletMinUSDC)
	}

	if c.PolygonRPCURL != "" && c.WalletPollInterval <= 0 {
		return fmt.Errorf("WALLET_POLL_INTERVAL must be positive, got %s", c.WalletPollInterval)
	}

	if c.DiscoveryMarketLimit < 0 {
		return fmt.Errorf("DISCOVERY_MARKET_LIMIT must be non-negative (0 = unlimited), got %d", c.DiscoveryMarketLimit)
	}

	if c.ArbMinEdge < 0 || c.ArbMinEdge >= 1.0 {
		return fmt.Errorf("ARB_MIN_EDGE must be in [0, 1), got %f", c.ArbMinEdge)
	}

	if c.ArbScanMode != "event" && c.ArbScanMode != "interval" {
		return fmt.Errorf("ARB_SCAN_MODE must be 'event' or 'interval', got %q", c.ArbScanMode)
	}

	if c.ArbScanMode == "interval" && c.ArbScanInterval <= 0 {
		return fmt.Errorf("ARB_SCAN_INTERVAL must be positive in interval mode, got %s", c.ArbScanInterval)
	}

	if c.ArbOrderSize <= 0 {
		return fmt.Errorf("ARB_ORDER_SIZE must be positive, got %f", c.ArbOrderSize)
	}

	if c.ArbMaxOrderSize < c.ArbOrderSize {
		return fmt.Errorf("ARB_MAX_ORDER_SIZE (%f) must be >= ARB_ORDER_SIZE (%f)", c.ArbMaxOrderSize, c.ArbOrderSize)
	}

	if c.ArbMinLiquidity < 0 {
		return fmt.Errorf("ARB_MIN_LIQUIDITY cannot be negative, got %f", c.ArbMinLiquidity)
	}

	if c.BookStaleness <= 0 {
		return fmt.Errorf("BOOK_STALENESS must be positive, got %s", c.BookStaleness)
	}

	if c.RiskMaxExposure <= 0 {
		return fmt.Errorf("RISK_MAX_EXPOSURE must be positive, got %f", c.RiskMaxExposure)
	}

	if c.RiskMaxMarketExposure < 0 {
		return fmt.Errorf("RISK_MAX_MARKET_EXPOSURE cannot be negative, got %f", c.RiskMaxMarketExposure)
	}

	if c.RiskMaxOpenCycles < 0 {
		return fmt.Errorf("RISK_MAX_OPEN_CYCLES cannot be negative, got %d", c.RiskMaxOpenCycles)
	}

	if c.RiskMaxDailyLoss <= 0 {
		return fmt.Errorf("RISK_MAX_DAILY_LOSS must be positive, got %f", c.RiskMaxDailyLoss)
	}

	if c.RiskMaxConsecutiveLosses <= 0 {
		return fmt.Errorf("RISK_MAX_CONSECUTIVE_LOSSES must be positive, got %d", c.RiskMaxConsecutiveLosses)
	}

	if c.RiskCooldown < 0 {
		return fmt.Errorf("RISK_COOLDOWN cannot be negative, got %s", c.RiskCooldown)
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.RiskDayBoundaryCron); err != nil {
		return fmt.Errorf("RISK_DAY_BOUNDARY_CRON %q: %w", c.RiskDayBoundaryCron, err)
	}

	if c.ExecutionMode != ExecutionModePaper && c.ExecutionMode != ExecutionModeLive {
		return fmt.Errorf("EXECUTION_MODE must be 'paper' or 'live', got %q", c.ExecutionMode)
	}

	if c.ExecutionMode == ExecutionModeLive && c.PolymarketPrivateKey == "" {
		return fmt.Errorf("POLYMARKET_PRIVATE_KEY is required in live mode")
	}

	if c.ExecFillTimeout <= 0 {
		return fmt.Errorf("EXEC_FILL_TIMEOUT must be positive, got %s", c.ExecFillTimeout)
	}

	if c.ExecPollInitial <= 0 || c.ExecPollMax < c.ExecPollInitial {
		return fmt.Errorf("EXEC_POLL_INITIAL (%s) must be positive and <= EXEC_POLL_MAX (%s)", c.ExecPollInitial, c.ExecPollMax)
	}

	if c.ExecPollMultiplier < 1 {
		return fmt.Errorf("EXEC_POLL_MULT must be >= 1, got %f", c.ExecPollMultiplier)
	}

	if c.ExecSubmitAttempts < 1 {
		return fmt.Errorf("EXEC_SUBMIT_ATTEMPTS must be at least 1, got %d", c.ExecSubmitAttempts)
	}

	if c.ExecRemediationTimeout <= 0 {
		return fmt.Errorf("EXEC_REMEDIATION_TIMEOUT must be positive, got %s", c.ExecRemediationTimeout)
	}

	if c.ExecTakerFee < 0 || c.ExecTakerFee >= 1 {
		return fmt.Errorf("EXEC_TAKER_FEE must be in [0, 1), got %f", c.ExecTakerFee)
	}

	switch c.StorageMode {
	case StorageModeMemory, StorageModePostgres:
	case StorageModeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH cannot be empty in sqlite mode")
		}
	default:
		return fmt.Errorf("STORAGE_MODE must be 'memory', 'sqlite' or 'postgres', got %q", c.StorageMode)
	}

	if c.StorageWriteAttempts < 1 {
		return fmt.Errorf("STORAGE_WRITE_ATTEMPTS must be at least 1, got %d", c.StorageWriteAttempts)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
