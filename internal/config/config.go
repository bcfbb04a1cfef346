package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/joho/godotenv"

	"token-collector/internal/validation"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel   string
	MaxRetries int
	RetryDelay time.Duration
	HTTP       HTTPConfig
	Kafka      KafkaConfig
	Database   DatabaseConfig
	Chain      ChainConfig
	Collector  CollectorConfig
	Ledger     LedgerConfig
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ListenAddress   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SignatureTTL    time.Duration
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	BrokerAddress string
	Topic         string
	BatchSize     int
	BatchTimeout  time.Duration
}

// Enabled reports whether a broker was configured
func (k KafkaConfig) Enabled() bool {
	return k.BrokerAddress != ""
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Enabled reports whether a database host was configured
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// ChainConfig holds configuration for the EVM node backing the ERC20 ledger
type ChainConfig struct {
	RpcEndpoint     string
	ApiKey          string
	RateLimit       float64
	ChainID         int64
	PrivateKey      string
	HTTPTimeout     time.Duration
	ReceiptTimeout  time.Duration
	ExplorerBaseURL string
}

// Enabled reports whether the ERC20 ledger should be used
func (c ChainConfig) Enabled() bool {
	return c.RpcEndpoint != ""
}

// CollectorConfig holds the collector policy
type CollectorConfig struct {
	// Address is the spender address users approve; derived from the chain key when the ERC20 ledger is used
	Address                common.Address
	Owner                  common.Address
	MasterAddresses        []common.Address
	AuthorizationThreshold *big.Int
}

// LedgerConfig holds the holdings preloaded into the in-memory ledger
type LedgerConfig struct {
	Seeds []LedgerSeed
}

// LedgerSeed is one LEDGER_SEED entry: asset:holder:balance[:allowance]
type LedgerSeed struct {
	Asset   common.Address
	Holder  common.Address
	Balance *big.Int
	// Allowance granted to the collector; nil when the entry approves nothing
	Allowance *big.Int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// a missing .env is fine, variables may be set externally
	_ = godotenv.Load()

	config := &Config{
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		MaxRetries: getEnvAsInt("MAX_RETRIES", 3),
		RetryDelay: getEnvAsDuration("RETRY_DELAY", time.Second),
		HTTP: HTTPConfig{
			ListenAddress:   getEnv("HTTP_LISTEN_ADDRESS", ":8080"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			SignatureTTL:    getEnvAsDuration("SIGNATURE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			BrokerAddress: getEnv("KAFKA_BROKER_ADDRESS", ""),
			Topic:         getEnv("KAFKA_TOPIC", "collector-events"),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 10),
			BatchTimeout:  getEnvAsDuration("KAFKA_BATCH_TIMEOUT", time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "token_collector"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Chain: ChainConfig{
			RpcEndpoint:     getEnv("CHAIN_RPC_ENDPOINT", ""),
			ApiKey:          getEnv("CHAIN_API_KEY", ""),
			RateLimit:       getEnvAsFloat("CHAIN_RATE_LIMIT", 4),
			ChainID:         int64(getEnvAsInt("CHAIN_ID", 1)),
			PrivateKey:      getEnv("CHAIN_PRIVATE_KEY", ""),
			HTTPTimeout:     getEnvAsDuration("CHAIN_HTTP_TIMEOUT", 30*time.Second),
			ReceiptTimeout:  getEnvAsDuration("CHAIN_RECEIPT_TIMEOUT", 2*time.Minute),
			ExplorerBaseURL: getEnv("CHAIN_EXPLORER_URL", "https://etherscan.io/tx/"),
		},
	}

	collector, err := loadCollector()
	if err != nil {
		return nil, err
	}
	config.Collector = collector

	seeds, err := loadLedgerSeeds()
	if err != nil {
		return nil, err
	}
	config.Ledger.Seeds = seeds

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadCollector() (CollectorConfig, error) {
	cfg := CollectorConfig{}

	if raw := getEnv("COLLECTOR_ADDRESS", ""); raw != "" {
		addr, err := validation.ParseNonZeroAddress(raw)
		if err != nil {
			return cfg, fmt.Errorf("COLLECTOR_ADDRESS: %w", err)
		}
		cfg.Address = addr
	}

	if raw := getEnv("OWNER_ADDRESS", ""); raw != "" {
		addr, err := validation.ParseNonZeroAddress(raw)
		if err != nil {
			return cfg, fmt.Errorf("OWNER_ADDRESS: %w", err)
		}
		cfg.Owner = addr
	}

	for _, raw := range getEnvAsList("MASTER_ADDRESSES") {
		addr, err := validation.ParseNonZeroAddress(raw)
		if err != nil {
			return cfg, fmt.Errorf("MASTER_ADDRESSES: %w", err)
		}
		cfg.MasterAddresses = append(cfg.MasterAddresses, addr)
	}

	if raw := getEnv("AUTHORIZATION_THRESHOLD", ""); raw != "" {
		threshold, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			return cfg, fmt.Errorf("AUTHORIZATION_THRESHOLD: invalid integer %q", raw)
		}
		if err := validation.ValidateAmount(threshold); err != nil {
			return cfg, fmt.Errorf("AUTHORIZATION_THRESHOLD: %w", err)
		}
		cfg.AuthorizationThreshold = threshold
	}

	return cfg, nil
}

// loadLedgerSeeds parses LEDGER_SEED. The allowance may be "max" for an
// unlimited approval.
func loadLedgerSeeds() ([]LedgerSeed, error) {
	var seeds []LedgerSeed

	for _, raw := range getEnvAsList("LEDGER_SEED") {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("LEDGER_SEED: %q is not asset:holder:balance[:allowance]", raw)
		}

		asset, err := validation.ParseNonZeroAddress(parts[0])
		if err != nil {
			return nil, fmt.Errorf("LEDGER_SEED asset: %w", err)
		}
		holder, err := validation.ParseNonZeroAddress(parts[1])
		if err != nil {
			return nil, fmt.Errorf("LEDGER_SEED holder: %w", err)
		}
		balance, err := parseSeedAmount(parts[2])
		if err != nil {
			return nil, fmt.Errorf("LEDGER_SEED balance: %w", err)
		}

		seed := LedgerSeed{Asset: asset, Holder: holder, Balance: balance}
		if len(parts) == 4 {
			if strings.EqualFold(parts[3], "max") {
				seed.Allowance = new(big.Int).Set(math.MaxBig256)
			} else if seed.Allowance, err = parseSeedAmount(parts[3]); err != nil {
				return nil, fmt.Errorf("LEDGER_SEED allowance: %w", err)
			}
		}
		seeds = append(seeds, seed)
	}

	return seeds, nil
}

func parseSeedAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() < 0 || amount.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// Validate checks the settings that have no usable default
func (c *Config) Validate() error {
	if c.Chain.Enabled() {
		if err := validation.ValidateURL(c.Chain.RpcEndpoint); err != nil {
			return fmt.Errorf("CHAIN_RPC_ENDPOINT: %w", err)
		}
		if c.Chain.PrivateKey == "" {
			return errors.New("CHAIN_PRIVATE_KEY is required when CHAIN_RPC_ENDPOINT is set")
		}
	} else if c.Collector.Address == (common.Address{}) {
		return errors.New("COLLECTOR_ADDRESS is required without a chain endpoint")
	}
	if c.HTTP.SignatureTTL <= 0 {
		return errors.New("SIGNATURE_TTL must be positive")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
