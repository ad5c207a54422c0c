// Package config loads ledger configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Driver          string `yaml:"driver" json:"driver"` // "postgres" or "sqlite"
	DSN             string `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"` // seconds
}

// RedisConfig represents the optional redis connection used by the calendar cache
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
}

// KafkaConfig represents the outbound event stream configuration
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled" json:"enabled"`
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	SettledTopic string        `yaml:"settled_topic" json:"settled_topic"`
	AlertTopic   string        `yaml:"alert_topic" json:"alert_topic"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks"`
}

// LedgerConfig represents settlement and risk engine tunables
type LedgerConfig struct {
	// MaxNotional is the ceiling on any intermediate notional value during
	// settlement; trades breaching it are rejected, not clamped.
	MaxNotional   float64       `yaml:"max_notional" json:"max_notional"`
	AlertCooldown time.Duration `yaml:"alert_cooldown" json:"alert_cooldown"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	PollInterval  time.Duration `yaml:"poll_interval" json:"poll_interval"`
	CalendarTTL   time.Duration `yaml:"calendar_ttl" json:"calendar_ttl"`
}

// Config represents the application configuration
type Config struct {
	LogLevel string         `yaml:"log_level" json:"log_level"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
}

// LoadConfig loads configuration from optional YAML files and TRADELEDGER_*
// environment variables, applying defaults for anything unset.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TRADELEDGER")

	setDefaults(v)

	for _, path := range paths {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:tradeledger.db?_fk=1")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.settled_topic", "ledger.trades.settled")
	v.SetDefault("kafka.alert_topic", "ledger.risk.alerts")
	v.SetDefault("kafka.write_timeout", 5*time.Second)
	v.SetDefault("kafka.required_acks", 1)

	v.SetDefault("ledger.max_notional", 1e12)
	v.SetDefault("ledger.alert_cooldown", time.Hour)
	v.SetDefault("ledger.sweep_interval", 15*time.Minute)
	v.SetDefault("ledger.poll_interval", 2*time.Second)
	v.SetDefault("ledger.calendar_ttl", 24*time.Hour)
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Ledger.MaxNotional <= 0 {
		return fmt.Errorf("ledger max_notional must be positive")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	return nil
}
