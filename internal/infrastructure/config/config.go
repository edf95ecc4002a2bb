package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	JWT         JWTConfig        `mapstructure:"jwt"`
	Security    SecurityConfig   `mapstructure:"security"`
	Chains      ChainsConfig     `mapstructure:"chains"`
	Settlement  SettlementConfig `mapstructure:"settlement"`
	Purchase    PurchaseConfig   `mapstructure:"purchase"`
	Referral    ReferralConfig   `mapstructure:"referral"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
	LoginPerMin     int      `mapstructure:"login_per_min"`
	EnableSwagger   bool     `mapstructure:"enable_swagger"`
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
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	SettingsTTL time.Duration `mapstructure:"settings_ttl"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockWait    time.Duration `mapstructure:"lock_wait"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Host != ""
}

type JWTConfig struct {
	Secret    string        `mapstructure:"secret"`
	AccessTTL time.Duration `mapstructure:"access_token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ChainsConfig struct {
	BSC     PaymentChainConfig `mapstructure:"bsc"`
	PioGold PayoutChainConfig  `mapstructure:"piogold"`
}

// PaymentChainConfig describes the chain buyers pay on.
type PaymentChainConfig struct {
	Name          string        `mapstructure:"name"`
	RPC           string        `mapstructure:"rpc"`
	ChainID       int64         `mapstructure:"chain_id"`
	USDTContract  string        `mapstructure:"usdt_contract"`
	USDTDecimals  int32         `mapstructure:"usdt_decimals"`
	Confirmations uint64        `mapstructure:"confirmations"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RPCTimeout    time.Duration `mapstructure:"rpc_timeout"`
}

// PayoutChainConfig describes the chain payouts are sent on.
type PayoutChainConfig struct {
	Name                string        `mapstructure:"name"`
	RPC                 string        `mapstructure:"rpc"`
	ChainID             int64         `mapstructure:"chain_id"`
	Decimals            int32         `mapstructure:"decimals"`
	GasLimit            uint64        `mapstructure:"gas_limit"`
	Confirmations       uint64        `mapstructure:"confirmations"`
	ReceiptPollInterval time.Duration `mapstructure:"receipt_poll_interval"`
	ReceiptMaxAttempts  int           `mapstructure:"receipt_max_attempts"`
	MaxRetries          int           `mapstructure:"max_retries"`
	BaseBackoff         time.Duration `mapstructure:"base_backoff"`
	QueueSize           int           `mapstructure:"queue_size"`
	RPCTimeout          time.Duration `mapstructure:"rpc_timeout"`
}

type SettlementConfig struct {
	WorkerCount   int           `mapstructure:"worker_count"`
	QueueSize     int           `mapstructure:"queue_size"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	SweepMinAge   time.Duration `mapstructure:"sweep_min_age"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
}

type PurchaseConfig struct {
	MinUSDT string `mapstructure:"min_usdt"`
}

type ReferralConfig struct {
	Required   bool `mapstructure:"required"`
	CodeLength int  `mapstructure:"code_length"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load reads config.yaml (if present), .env and the environment.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8001)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_per_min", 120)
	v.SetDefault("server.login_per_min", 5)
	v.SetDefault("server.enable_swagger", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "piogold_ico")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.settings_ttl", "30s")
	v.SetDefault("redis.lock_ttl", "10m")
	v.SetDefault("redis.lock_wait", "10m")

	v.SetDefault("jwt.access_token_ttl", "24h")
	v.SetDefault("jwt.issuer", "piogold-ico")

	v.SetDefault("chains.bsc.name", "bsc")
	v.SetDefault("chains.bsc.rpc", "https://bsc-dataseed.binance.org")
	v.SetDefault("chains.bsc.chain_id", 56)
	v.SetDefault("chains.bsc.usdt_contract", "0x55d398326f99059fF775485246999027B3197955")
	v.SetDefault("chains.bsc.usdt_decimals", 18)
	v.SetDefault("chains.bsc.confirmations", 15)
	v.SetDefault("chains.bsc.poll_interval", "5s")
	v.SetDefault("chains.bsc.max_attempts", 30)
	v.SetDefault("chains.bsc.rpc_timeout", "10s")

	v.SetDefault("chains.piogold.name", "piogold")
	v.SetDefault("chains.piogold.rpc", "https://datasheed.pioscan.com")
	v.SetDefault("chains.piogold.chain_id", 42357)
	v.SetDefault("chains.piogold.decimals", 18)
	v.SetDefault("chains.piogold.gas_limit", 21000)
	v.SetDefault("chains.piogold.confirmations", 3)
	v.SetDefault("chains.piogold.receipt_poll_interval", "3s")
	v.SetDefault("chains.piogold.receipt_max_attempts", 60)
	v.SetDefault("chains.piogold.max_retries", 5)
	v.SetDefault("chains.piogold.base_backoff", "500ms")
	v.SetDefault("chains.piogold.queue_size", 256)
	v.SetDefault("chains.piogold.rpc_timeout", "10s")

	v.SetDefault("settlement.worker_count", 8)
	v.SetDefault("settlement.queue_size", 1024)
	v.SetDefault("settlement.sweep_schedule", "@every 1m")
	v.SetDefault("settlement.sweep_min_age", "3m")
	v.SetDefault("settlement.sweep_batch", 100)

	v.SetDefault("purchase.min_usdt", "50")

	v.SetDefault("referral.required", true)
	v.SetDefault("referral.code_length", 8)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 0.1)
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("database.url", dbURL)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		v.Set("redis.url", redisURL)
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		v.Set("jwt.secret", jwtSecret)
	}
	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		v.Set("security.encryption_key", encKey)
	}
	if rpc := os.Getenv("BSC_RPC_URL"); rpc != "" {
		v.Set("chains.bsc.rpc", rpc)
	}
	if rpc := os.Getenv("PIOGOLD_RPC_URL"); rpc != "" {
		v.Set("chains.piogold.rpc", rpc)
	}
	if otlp := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otlp != "" {
		v.Set("tracing.collector_url", otlp)
		v.Set("tracing.enabled", true)
	}
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if config.Security.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}
	if !common.IsHexAddress(config.Chains.BSC.USDTContract) {
		return fmt.Errorf("chains.bsc.usdt_contract is not a valid address")
	}
	if config.Chains.BSC.MaxAttempts <= 0 || config.Chains.PioGold.ReceiptMaxAttempts <= 0 {
		return fmt.Errorf("chain attempt ceilings must be positive")
	}
	if config.Chains.PioGold.GasLimit == 0 {
		return fmt.Errorf("chains.piogold.gas_limit must be positive")
	}
	if config.Settlement.WorkerCount <= 0 {
		return fmt.Errorf("settlement.worker_count must be positive")
	}
	if config.Referral.CodeLength < 6 {
		return fmt.Errorf("referral.code_length must be at least 6")
	}
	return nil
}
