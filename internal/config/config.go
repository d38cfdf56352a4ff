// Package config loads the application configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	Delivery DeliveryConfig `yaml:"delivery"`
	API      APIConfig      `yaml:"api"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings. Redis is optional; the send
// throttle is skipped without it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds the send loop tunables.
type WorkerConfig struct {
	BatchSize          int `yaml:"batch_size"`
	IntervalSeconds    int `yaml:"interval_seconds"`
	ReclaimSeconds     int `yaml:"reclaim_seconds"`
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	RatePerMinute      int `yaml:"rate_per_minute"`
}

// Interval returns the tick period.
func (w WorkerConfig) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

// Reclaim returns how long a sending row stays locked before reclaim.
func (w WorkerConfig) Reclaim() time.Duration {
	return time.Duration(w.ReclaimSeconds) * time.Second
}

// SendTimeout returns the per-message delivery deadline.
func (w WorkerConfig) SendTimeout() time.Duration {
	return time.Duration(w.SendTimeoutSeconds) * time.Second
}

// DeliveryConfig selects the delivery provider. SMTP settings live in the
// database; SES credentials come from here.
type DeliveryConfig struct {
	Provider     string `yaml:"provider"` // "smtp" or "ses"
	SESAccessKey string `yaml:"ses_access_key"`
	SESSecretKey string `yaml:"ses_secret_key"`
	SESRegion    string `yaml:"ses_region"`
}

// APIConfig holds admin API settings.
type APIConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads the YAML config when path exists, then overlays
// environment variables. A .env file is read first if present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = n
		}
	}
	if base := os.Getenv("PUBLIC_BASE_URL"); base != "" {
		cfg.Server.PublicBaseURL = base
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if provider := os.Getenv("DELIVERY_PROVIDER"); provider != "" {
		cfg.Delivery.Provider = provider
	}
	if key := os.Getenv("AWS_SES_ACCESS_KEY"); key != "" {
		cfg.Delivery.SESAccessKey = key
	}
	if key := os.Getenv("AWS_SES_SECRET_KEY"); key != "" {
		cfg.Delivery.SESSecretKey = key
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.Delivery.SESRegion = region
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 50
	}
	if c.Worker.IntervalSeconds == 0 {
		c.Worker.IntervalSeconds = 60
	}
	if c.Worker.ReclaimSeconds == 0 {
		c.Worker.ReclaimSeconds = 300
	}
	if c.Worker.SendTimeoutSeconds == 0 {
		c.Worker.SendTimeoutSeconds = 30
	}
	if c.Delivery.Provider == "" {
		c.Delivery.Provider = "smtp"
	}
	if c.Delivery.SESRegion == "" {
		c.Delivery.SESRegion = "us-east-1"
	}
}
