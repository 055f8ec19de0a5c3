package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application
type Config struct {
	// Ethereum node configuration
	Ethereum EthereumConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// API server configuration
	API APIConfig

	// Key vault configuration
	Wallet WalletConfig

	// Balance refresh configuration
	Balance BalanceConfig

	// Swap aggregator configuration
	Swap SwapConfig

	// Market data configuration
	Market MarketConfig

	// Chart configuration
	Chart ChartConfig

	// Transaction tracking configuration
	Transaction TransactionConfig

	// Logging configuration
	Log LogConfig
}

// EthereumConfig holds Ethereum node connection settings
type EthereumConfig struct {
	RPCURL         string        `envconfig:"ETH_RPC_URL" default:"http://localhost:8545"`
	ChainID        int64         `envconfig:"ETH_CHAIN_ID" default:"1"`
	RequestTimeout time.Duration `envconfig:"ETH_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"ETH_MAX_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"ETH_RETRY_DELAY" default:"1s"`
	GasLimitNative uint64        `envconfig:"ETH_GAS_LIMIT_NATIVE" default:"21000"`
	GasLimitERC20  uint64        `envconfig:"ETH_GAS_LIMIT_ERC20" default:"100000"`

	// JSON-RPC method used to enumerate token balances. Empty disables
	// enumeration and falls back to balanceOf over known tokens.
	TokenBalancesMethod string `envconfig:"ETH_TOKEN_BALANCES_METHOD" default:"alchemy_getTokenBalances"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"wallet"`
	Password        string        `envconfig:"DB_PASSWORD" default:"wallet"`
	Name            string        `envconfig:"DB_NAME" default:"chain_wallet"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`

	DefaultTTL time.Duration `envconfig:"REDIS_DEFAULT_TTL" default:"5m"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Host            string        `envconfig:"API_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"API_PORT" default:"8081"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    int           `envconfig:"API_RATE_LIMIT_RPS" default:"100"`
	CORSOrigins     []string      `envconfig:"API_CORS_ORIGINS" default:"http://localhost:3000"`

	// Unlock and import attempts per client per minute
	PasswordAttempts int `envconfig:"API_PASSWORD_ATTEMPTS_PER_MINUTE" default:"10"`
}

// WalletConfig holds key vault settings
type WalletConfig struct {
	// Namespace keys persisted wallet state so several local profiles can
	// share one database.
	Namespace    string `envconfig:"WALLET_NAMESPACE" default:"default"`
	NativeSymbol string `envconfig:"WALLET_NATIVE_SYMBOL" default:"ETH"`
	NativeName   string `envconfig:"WALLET_NATIVE_NAME" default:"Ether"`

	// Argon2id parameters
	KDFMemory      uint32 `envconfig:"WALLET_KDF_MEMORY" default:"65536"`
	KDFIterations  uint32 `envconfig:"WALLET_KDF_ITERATIONS" default:"3"`
	KDFParallelism uint8  `envconfig:"WALLET_KDF_PARALLELISM" default:"4"`
}

// BalanceConfig holds balance aggregator settings
type BalanceConfig struct {
	RefreshInterval time.Duration `envconfig:"BALANCE_REFRESH_INTERVAL" default:"30s"`
	WorkerCount     int           `envconfig:"BALANCE_WORKER_COUNT" default:"4"`
}

// SwapConfig holds swap aggregator settings
type SwapConfig struct {
	BaseURL        string        `envconfig:"SWAP_API_URL" default:"https://api.0x.org"`
	APIKey         string        `envconfig:"SWAP_API_KEY" default:""`
	RequestTimeout time.Duration `envconfig:"SWAP_REQUEST_TIMEOUT" default:"15s"`
	QuoteTTL       time.Duration `envconfig:"SWAP_QUOTE_TTL" default:"45s"`
	SlippageBps    int           `envconfig:"SWAP_SLIPPAGE_BPS" default:"100"`
}

// MarketConfig holds market data provider settings
type MarketConfig struct {
	BaseURL         string        `envconfig:"MARKET_API_URL" default:"https://api.coingecko.com/api/v3"`
	APIKey          string        `envconfig:"MARKET_API_KEY" default:""`
	RequestTimeout  time.Duration `envconfig:"MARKET_REQUEST_TIMEOUT" default:"15s"`
	Platform        string        `envconfig:"MARKET_PLATFORM" default:"ethereum"`
	NativeCoinID    string        `envconfig:"MARKET_NATIVE_COIN_ID" default:"ethereum"`
	LogoPlaceholder string        `envconfig:"MARKET_LOGO_PLACEHOLDER" default:"https://ui-avatars.com/api/?name=%s"`
	CoinListTTL     time.Duration `envconfig:"MARKET_COIN_LIST_TTL" default:"6h"`
	MetadataTTL     time.Duration `envconfig:"MARKET_METADATA_TTL" default:"24h"`
	PriceTTL        time.Duration `envconfig:"MARKET_PRICE_TTL" default:"1m"`
	HistoryTTL      time.Duration `envconfig:"MARKET_HISTORY_TTL" default:"5m"`
}

// ChartConfig holds chart settings
type ChartConfig struct {
	SyntheticFallback bool `envconfig:"CHART_SYNTHETIC_FALLBACK" default:"true"`
}

// TransactionConfig holds confirmation tracking settings
type TransactionConfig struct {
	PollInterval time.Duration `envconfig:"TX_CONFIRMATION_POLL_INTERVAL" default:"4s"`

	// Standalone tracker settings
	ResumeInterval time.Duration `envconfig:"TX_TRACKER_RESUME_INTERVAL" default:"1m"`
	MetricsPort    int           `envconfig:"TX_TRACKER_METRICS_PORT" default:"9091"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load loads configuration from a .env file when present, then from
// environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
