// Package config loads orchestrator configuration from an optional recalc.yaml
// file and RECALC_-prefixed environment variables; environment values win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/indexops/recalc/internal/jobs"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type StoreConfig struct {
	// Backend selects the task store implementation: file, memory or redis.
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	RedisAddr string `mapstructure:"redis_addr"`
}

type HistoryConfig struct {
	// PostgresDSN enables the execution-history recorder when set.
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type TasksConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	CleanupMaxAge     time.Duration `mapstructure:"cleanup_max_age"`
	BatchPollInterval time.Duration `mapstructure:"batch_poll_interval"`
}

type ReviewConfig struct {
	// RunnerCommand is the recalculation runner invoked per review task,
	// e.g. ["python", "task_runner.py"].
	RunnerCommand []string                    `mapstructure:"runner_command"`
	TailLines     int                         `mapstructure:"tail_lines"`
	Indexes       map[string]jobs.IndexConfig `mapstructure:"indexes"`
}

type EmailConfig struct {
	FromName        string   `mapstructure:"from_name"`
	FromAddress     string   `mapstructure:"from_address"`
	APIKey          string   `mapstructure:"api_key"`
	BatchRecipients []string `mapstructure:"batch_recipients"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	History HistoryConfig `mapstructure:"history"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Review  ReviewConfig  `mapstructure:"review"`
	Email   EmailConfig   `mapstructure:"email"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "task_storage")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("tasks.max_concurrent", 3)
	v.SetDefault("tasks.timeout", time.Hour)
	v.SetDefault("tasks.cleanup_max_age", 24*time.Hour)
	v.SetDefault("tasks.batch_poll_interval", 250*time.Millisecond)
	v.SetDefault("review.tail_lines", 300)

	v.SetConfigName("recalc")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("RECALC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "file", "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend: %s (available: file, memory, redis)", c.Store.Backend)
	}

	if c.Store.Backend == "file" && c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required for the file backend")
	}
	if c.Store.Backend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required for the redis backend")
	}
	if c.Tasks.MaxConcurrent <= 0 {
		return fmt.Errorf("tasks.max_concurrent must be positive")
	}

	return nil
}
