package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Worker     WorkerConfig     `mapstructure:"worker"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Generation GenerationConfig `mapstructure:"generation"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Log        LogConfig        `mapstructure:"log"`
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Concurrency      int           `mapstructure:"concurrency"`
	QueueGroup       string        `mapstructure:"queue_group"`
	JobTimeout       time.Duration `mapstructure:"job_timeout"`
	StuckJobMaxAge   time.Duration `mapstructure:"stuck_job_max_age"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	Name               string `mapstructure:"name"`
	SSLMode            string `mapstructure:"sslmode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxIdleConnections int    `mapstructure:"max_idle_connections"`
}

// DSN returns the database connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	// RecheckInterval is how often a caller that saw the broker down probes
	// it again before giving up on queue-backed execution for a request.
	RecheckInterval time.Duration `mapstructure:"recheck_interval"`
}

// OpenAIConfig holds LLM API configuration.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	GenerationModel string        `mapstructure:"generation_model"`
	QCModel         string        `mapstructure:"qc_model"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// GenerationConfig holds batch loop configuration.
type GenerationConfig struct {
	BatchSize int `mapstructure:"batch_size"`
	// MaxRetries bounds consecutive batch failures before the job fails.
	MaxRetries int `mapstructure:"max_retries"`
	// MaxPerJob caps the requested count on job creation.
	MaxPerJob int `mapstructure:"max_per_job"`
	// AvoidListSize is how many prior question stems are carried forward.
	AvoidListSize int `mapstructure:"avoid_list_size"`
	// SelfCorrectionLimit is the max failed items a batch may have for the
	// corrective round to run at all.
	SelfCorrectionLimit int `mapstructure:"self_correction_limit"`
	// DedupThreshold is the cosine similarity at which items are dropped.
	DedupThreshold float64 `mapstructure:"dedup_threshold"`
	// QCPassThreshold is the minimum validator score total for a pass.
	QCPassThreshold int `mapstructure:"qc_pass_threshold"`
}

// PricingConfig holds pricing table configuration.
type PricingConfig struct {
	// RatesFile optionally overlays the built-in model rate table.
	RatesFile string `mapstructure:"rates_file"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New creates a new Config instance from Viper.
func New(v *viper.Viper) *Config {
	var config Config

	// Unmarshal configuration
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		panic(fmt.Errorf("invalid configuration: %w", err))
	}

	return &config
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.User == "" {
		return errors.New("database user is required")
	}
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}
	if c.Database.Name == "" {
		return errors.New("database name is required")
	}
	if c.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	if c.Generation.BatchSize <= 0 {
		return errors.New("generation batch size must be positive")
	}
	if c.Generation.MaxRetries < 0 {
		return errors.New("generation max retries cannot be negative")
	}
	if c.Generation.MaxPerJob <= 0 {
		return errors.New("generation max per job must be positive")
	}
	if c.Generation.DedupThreshold <= 0 || c.Generation.DedupThreshold > 1 {
		return errors.New("dedup threshold must be in (0, 1]")
	}
	if c.Generation.QCPassThreshold < 0 || c.Generation.QCPassThreshold > 100 {
		return errors.New("qc pass threshold must be in [0, 100]")
	}
	return nil
}
