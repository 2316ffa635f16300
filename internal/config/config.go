package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Module    ModuleConfig    `mapstructure:"module"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type ChainConfig struct {
	Name        string        `mapstructure:"name"`
	ChainID     int64         `mapstructure:"chain_id"`
	RPCEndpoint string        `mapstructure:"rpc_endpoint"`
	BlockTime   time.Duration `mapstructure:"block_time"`
	StartBlock  uint64        `mapstructure:"start_block"` // overrides the module start block when set
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
}

type ProcessorConfig struct {
	// BatchSize is the number of blocks fetched per log query
	BatchSize            uint64 `mapstructure:"batch_size"`
	Confirmations        uint64 `mapstructure:"confirmations"`
	MaxConsecutiveErrors int    `mapstructure:"max_consecutive_errors"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIURL  string `mapstructure:"api_url"`
	APIKey  string `mapstructure:"api_key"`
}

type SchedulerConfig struct {
	SummaryInterval time.Duration `mapstructure:"summary_interval"`
}

type ModuleConfig struct {
	// ManifestPath replaces the built-in manifest when set
	ManifestPath string `mapstructure:"manifest_path"`
}

// Load reads the YAML file at configPath, if any, then INDEXER_* environment
// variables (INDEXER_DATABASE_PASSWORD sets database.password).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("chain.name", "bsc")
	v.SetDefault("chain.chain_id", 56)
	v.SetDefault("chain.rpc_endpoint", "https://bsc-dataseed.bnbchain.org")
	v.SetDefault("chain.block_time", "3s")
	v.SetDefault("chain.start_block", 0)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "pancake")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("processor.batch_size", 100)
	v.SetDefault("processor.confirmations", 3)
	v.SetDefault("processor.max_consecutive_errors", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("realtime.enabled", false)
	v.SetDefault("realtime.api_url", "http://localhost:8000/api")
	v.SetDefault("realtime.api_key", "")
	v.SetDefault("scheduler.summary_interval", "1m")
	v.SetDefault("module.manifest_path", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the indexer cannot run with.
func (c *Config) Validate() error {
	if c.Chain.RPCEndpoint == "" {
		return fmt.Errorf("chain.rpc_endpoint is required")
	}
	if c.Processor.BatchSize == 0 {
		return fmt.Errorf("processor.batch_size must be positive")
	}
	if c.Processor.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("processor.max_consecutive_errors must be positive")
	}
	if c.Realtime.Enabled && c.Realtime.APIURL == "" {
		return fmt.Errorf("realtime.api_url is required when realtime is enabled")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
