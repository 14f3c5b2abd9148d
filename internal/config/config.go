package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	SourceRPC      = "rpc"
	SourceJSONL    = "jsonl"
	SourcePostgres = "postgres"
)

// Common holds the settings shared by every command.
type Common struct {
	RPCURL       string
	Ledger       string
	Artifact     string
	ContractName string
	FromBlock    uint64
	BatchSize    uint64
	RPCTimeout   time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	PGDSN        string
	Out          string
	LogLevel     string
}

// Config holds the serve command configuration.
type Config struct {
	Common

	HandleStrategy  string
	Listen          string
	Source          string
	CacheTTL        time.Duration
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
}

// IndexConfig holds the index command configuration.
type IndexConfig struct {
	Common

	ToBlock           uint64
	Checkpoint        string
	CheckpointEnabled bool
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("batch-size", uint64(0))
		v.SetDefault("handle-strategy", "eager")
		v.SetDefault("listen", ":3000")
		v.SetDefault("source", SourceRPC)
		v.SetDefault("cache-ttl", time.Duration(0))
		v.SetDefault("redis-db", 0)
		v.SetDefault("read-timeout", 15*time.Second)
		v.SetDefault("write-timeout", 2*time.Minute)
		v.SetDefault("shutdown-timeout", 10*time.Second)
		v.SetDefault("metrics", true)
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Common:          common(v),
		HandleStrategy:  v.GetString("handle-strategy"),
		Listen:          v.GetString("listen"),
		Source:          strings.ToLower(v.GetString("source")),
		CacheTTL:        v.GetDuration("cache-ttl"),
		RedisAddr:       v.GetString("redis-addr"),
		RedisPassword:   v.GetString("redis-password"),
		RedisDB:         v.GetInt("redis-db"),
		ReadTimeout:     v.GetDuration("read-timeout"),
		WriteTimeout:    v.GetDuration("write-timeout"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		MetricsEnabled:  v.GetBool("metrics"),
	}

	return cfg, cfg.Validate()
}

// Validate rejects combinations that cannot be served.
func (c Config) Validate() error {
	if err := c.Common.validate(); err != nil {
		return err
	}
	switch c.HandleStrategy {
	case "eager", "per-request":
	default:
		return fmt.Errorf("handle-strategy must be eager or per-request, got %q", c.HandleStrategy)
	}
	switch c.Source {
	case SourceRPC:
	case SourceJSONL:
		if c.Out == "" {
			return fmt.Errorf("source %s requires out", SourceJSONL)
		}
	case SourcePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("source %s requires pg-dsn", SourcePostgres)
		}
	default:
		return fmt.Errorf("source must be one of rpc, jsonl, postgres, got %q", c.Source)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache-ttl must not be negative")
	}
	return nil
}

// LoadIndex merges config file, environment variables, and flags into IndexConfig.
func LoadIndex(cfgFile string, flags *pflag.FlagSet) (IndexConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("batch-size", uint64(2000))
		v.SetDefault("checkpoint", "./data/checkpoint.json")
		v.SetDefault("checkpoint-enabled", true)
	})
	if err != nil {
		return IndexConfig{}, err
	}

	cfg := IndexConfig{
		Common:            common(v),
		ToBlock:           v.GetUint64("to"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
	}
	if err := cfg.Common.validate(); err != nil {
		return IndexConfig{}, err
	}
	if cfg.BatchSize == 0 {
		return IndexConfig{}, fmt.Errorf("batch-size must be greater than zero")
	}
	if cfg.ToBlock != 0 && cfg.ToBlock < cfg.FromBlock {
		return IndexConfig{}, fmt.Errorf("to block must be >= from block")
	}
	if cfg.Out == "" && cfg.PGDSN == "" {
		return IndexConfig{}, fmt.Errorf("out or pg-dsn is required")
	}
	return cfg, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DEXTERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc", "http://localhost:8545")
	v.SetDefault("ledger", "./contracts/broadcast/DepositsAndSwaps.s.sol/1/run-latest.json")
	v.SetDefault("artifact", "./contracts/out/Dexterity.sol/Dexterity.json")
	v.SetDefault("contract-name", "Dexterity")
	v.SetDefault("rpc-timeout", 30*time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("out", "./data/logs.jsonl")
	v.SetDefault("log-level", "info")
	defaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

func common(v *viper.Viper) Common {
	return Common{
		RPCURL:       v.GetString("rpc"),
		Ledger:       v.GetString("ledger"),
		Artifact:     v.GetString("artifact"),
		ContractName: v.GetString("contract-name"),
		FromBlock:    v.GetUint64("from"),
		BatchSize:    v.GetUint64("batch-size"),
		RPCTimeout:   v.GetDuration("rpc-timeout"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		PGDSN:        v.GetString("pg-dsn"),
		Out:          v.GetString("out"),
		LogLevel:     v.GetString("log-level"),
	}
}

func (c Common) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc is required")
	}
	if c.Ledger == "" {
		return fmt.Errorf("ledger is required")
	}
	if c.ContractName == "" {
		return fmt.Errorf("contract-name is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}
	return nil
}
