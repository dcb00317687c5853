package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string                 `mapstructure:"environment"`
	LogLevel    string                 `mapstructure:"log_level"`
	Server      ServerConfig           `mapstructure:"server"`
	Database    DatabaseConfig         `mapstructure:"database"`
	Redis       RedisConfig            `mapstructure:"redis"`
	JWT         JWTConfig              `mapstructure:"jwt"`
	Kafka       KafkaConfig            `mapstructure:"kafka"`
	Chains      map[string]ChainConfig `mapstructure:"chains"`
	Custody     CustodyConfig          `mapstructure:"custody"`
	HotWallet   HotWalletConfig        `mapstructure:"hot_wallet"`
	Safe        SafeConfig             `mapstructure:"safe"`
	Risk        RiskConfig             `mapstructure:"risk"`
	Workers     WorkerConfig           `mapstructure:"workers"`
	Secrets     SecretsConfig          `mapstructure:"secrets"`
	Tracing     TracingConfig          `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
	// Per-user budgets enforced in Redis on authenticated routes.
	UserRateLimitPerMin       int `mapstructure:"user_rate_limit_per_min"`
	WithdrawalRateLimitPerMin int `mapstructure:"withdrawal_rate_limit_per_min"`
	// TLS is enabled when both cert and key are set.
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
	TLSCAFile   string `mapstructure:"tls_ca_file"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`
	AccessTTL  int    `mapstructure:"access_token_ttl"`
	RefreshTTL int    `mapstructure:"refresh_token_ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
}

// ChainConfig describes one supported chain. Keys of the Chains map
// are chain names ("bitcoin", "ethereum", "polygon").
type ChainConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	RPC             string `mapstructure:"rpc"`
	RPCUser         string `mapstructure:"rpc_user"`
	RPCPassword     string `mapstructure:"rpc_password"`
	ChainID         int64  `mapstructure:"chain_id"`
	Confirmations   int64  `mapstructure:"confirmations"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec"`
	StartBlock      int64  `mapstructure:"start_block"`
	ReorgDepth      int64  `mapstructure:"reorg_depth"`
	Xpub            string `mapstructure:"xpub"`
}

type CustodyConfig struct {
	// Assets accepted for deposit per chain, by asset identifier.
	SupportedAssets []string `mapstructure:"supported_assets"`
	BitcoinNetwork  string   `mapstructure:"bitcoin_network"`
}

type HotWalletConfig struct {
	// PrivateKey is hex-encoded; in production it is injected from
	// the secret store, never from a config file. When
	// PrivateKeyEncrypted is set the value is AES-GCM encrypted and
	// is decrypted at startup with the ENCRYPTION_KEY secret.
	PrivateKey          string `mapstructure:"private_key"`
	PrivateKeyEncrypted bool   `mapstructure:"private_key_encrypted"`
	GasLimit            uint64 `mapstructure:"gas_limit"`
	MaxGasPriceWei      string `mapstructure:"max_gas_price_wei"`
}

type SafeConfig struct {
	ServiceURL      string `mapstructure:"service_url"`
	SafeAddress     string `mapstructure:"safe_address"`
	ProposerKey     string `mapstructure:"proposer_key"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec"`
	Threshold       int    `mapstructure:"threshold"`
}

type RiskConfig struct {
	// Per-asset amount thresholds. Amounts at or above review_amount
	// go to manual review; at or above high_amount they are high tier.
	ReviewAmounts map[string]string `mapstructure:"review_amounts"`
	HighAmounts   map[string]string `mapstructure:"high_amounts"`
	// VelocityWindow bounds how much a user can withdraw per window
	// before the request escalates to review.
	VelocityWindowMin int    `mapstructure:"velocity_window_min"`
	VelocityMaxAmount string `mapstructure:"velocity_max_amount"`
}

type SecretsConfig struct {
	// Provider selects where key material comes from: "env" or "aws".
	Provider    string `mapstructure:"provider"`
	AWSRegion   string `mapstructure:"aws_region"`
	AWSPrefix   string `mapstructure:"aws_prefix"`
	CacheTTLSec int    `mapstructure:"cache_ttl_sec"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

type WorkerConfig struct {
	ConfirmationIntervalSec int    `mapstructure:"confirmation_interval_sec"`
	BroadcastIntervalSec    int    `mapstructure:"broadcast_interval_sec"`
	ConservationCron        string `mapstructure:"conservation_cron"`
	BatchSize               int    `mapstructure:"batch_size"`
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 100)
	viper.SetDefault("server.user_rate_limit_per_min", 120)
	viper.SetDefault("server.withdrawal_rate_limit_per_min", 10)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "custody_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.migrations_path", "file://migrations")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("jwt.access_token_ttl", 3600)
	viper.SetDefault("jwt.refresh_token_ttl", 2592000)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("custody.supported_assets", []string{"BTC", "ETH", "MATIC"})
	viper.SetDefault("custody.bitcoin_network", "mainnet")

	viper.SetDefault("hot_wallet.gas_limit", 21000)
	viper.SetDefault("hot_wallet.max_gas_price_wei", "500000000000")

	viper.SetDefault("safe.poll_interval_sec", 30)
	viper.SetDefault("safe.threshold", 2)

	viper.SetDefault("risk.velocity_window_min", 60)
	viper.SetDefault("risk.velocity_max_amount", "10")

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.cache_ttl_sec", 300)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sample_rate", 0.1)

	viper.SetDefault("workers.confirmation_interval_sec", 30)
	viper.SetDefault("workers.broadcast_interval_sec", 30)
	viper.SetDefault("workers.conservation_cron", "0 * * * *")
	viper.SetDefault("workers.batch_size", 100)
}

func overrideFromEnv() {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}
	if hotKey := os.Getenv("HOT_WALLET_PRIVATE_KEY"); hotKey != "" {
		viper.Set("hot_wallet.private_key", hotKey)
	}
	if proposerKey := os.Getenv("SAFE_PROPOSER_KEY"); proposerKey != "" {
		viper.Set("safe.proposer_key", proposerKey)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		viper.Set("kafka.brokers", strings.Split(brokers, ","))
		viper.Set("kafka.enabled", true)
	}
}

func validate(config *Config) error {
	// With an external secrets provider the JWT secret is resolved at
	// startup instead of being present in the config.
	if config.JWT.Secret == "" && config.Secrets.Provider == "env" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Secrets.Provider == "aws" && config.Secrets.AWSRegion == "" {
		return fmt.Errorf("secrets provider aws requires aws_region")
	}

	if config.Tracing.Enabled && config.Tracing.CollectorURL == "" {
		return fmt.Errorf("tracing is enabled but has no collector_url")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	for name, chain := range config.Chains {
		if !chain.Enabled {
			continue
		}
		if chain.RPC == "" {
			return fmt.Errorf("chain %s is enabled but has no rpc endpoint", name)
		}
		if chain.Xpub == "" {
			return fmt.Errorf("chain %s is enabled but has no deposit xpub", name)
		}
	}

	for asset, raw := range config.Risk.ReviewAmounts {
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("invalid review amount for %s: %w", asset, err)
		}
	}
	for asset, raw := range config.Risk.HighAmounts {
		if _, err := decimal.NewFromString(raw); err != nil {
			return fmt.Errorf("invalid high amount for %s: %w", asset, err)
		}
	}

	return nil
}

// PollInterval returns the chain's poll interval as a duration
func (c ChainConfig) PollInterval() time.Duration {
	if c.PollIntervalSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.PollIntervalSec) * time.Second
}
