// Package config loads the service configuration from the environment,
// with an optional YAML file overriding the defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Chain    ChainConfig    `yaml:"chain"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Stats    StatsConfig    `yaml:"stats"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL,default=info"`
}

type ServerConfig struct {
	Addr              string `yaml:"addr" env:"SERVER_ADDR,default=:8080"`
	RequestsPerSecond int    `yaml:"requests_per_second" env:"SERVER_RPS,default=20"`
	Burst             int    `yaml:"burst" env:"SERVER_BURST,default=40"`
}

type ChainConfig struct {
	RPCURL        string        `yaml:"rpc_url" env:"CHAIN_RPC_URL,default=http://localhost:8545"`
	WSURL         string        `yaml:"ws_url" env:"CHAIN_WS_URL"`
	MatrixAddress string        `yaml:"matrix_address" env:"CHAIN_MATRIX_ADDRESS"`
	TokenAddress  string        `yaml:"token_address" env:"CHAIN_TOKEN_ADDRESS"`
	PrivateKey    string        `yaml:"-" env:"CHAIN_PRIVATE_KEY"`
	ReadsPerSec   int           `yaml:"reads_per_second" env:"CHAIN_READS_PER_SECOND,default=20"`
	ReadBurst     int           `yaml:"read_burst" env:"CHAIN_READ_BURST,default=40"`
	ConfirmEvery  time.Duration `yaml:"confirm_interval" env:"CHAIN_CONFIRM_INTERVAL,default=2s"`
}

type DatabaseConfig struct {
	// DSN is empty for the in-memory store.
	DSN string `yaml:"dsn" env:"DATABASE_DSN"`
}

type RedisConfig struct {
	// Addr is empty when Redis is not used.
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB,default=0"`
}

type AuthConfig struct {
	// AdminSecret signs admin tokens; the admin surface is disabled when
	// it is empty.
	AdminSecret string `yaml:"-" env:"AUTH_ADMIN_SECRET"`
}

type StatsConfig struct {
	Schedule string `yaml:"schedule" env:"STATS_SCHEDULE,default=@every 1m"`
}

// Load reads .env when present, then the environment, then the optional
// YAML file at path (empty path skips it). YAML values override env.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Chain.MatrixAddress == "" {
		return fmt.Errorf("chain matrix contract address is required")
	}
	if c.Chain.TokenAddress == "" {
		return fmt.Errorf("chain token contract address is required")
	}
	if c.Server.RequestsPerSecond <= 0 || c.Server.Burst <= 0 {
		return fmt.Errorf("server rate limit must be positive")
	}
	return nil
}
