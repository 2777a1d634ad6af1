// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type APIConfig struct {
	Addr          string        `yaml:"addr"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminKey      string        `yaml:"admin_key"`
	RateLimit     int           `yaml:"rate_limit"` // requests per user per route per minute
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // progress cache entry lifetime
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Noop    bool   `yaml:"noop"` // local/dev stand-in, no real calls
}

type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type QueueConfig struct {
	Workers        int           `yaml:"workers"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffDelay   time.Duration `yaml:"backoff_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	ReapInterval   time.Duration `yaml:"reap_interval"` // stale-active scan cadence
	StaleAfter     time.Duration `yaml:"stale_after"`   // active job age before reclaim
}

type PipelineConfig struct {
	StoryboardCost int64 `yaml:"storyboard_cost"` // per shot
	ClipCost       int64 `yaml:"clip_cost"`       // per shot
	ComposeCost    int64 `yaml:"compose_cost"`

	SyncInterval     time.Duration `yaml:"sync_interval"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	DispatchBatch    int           `yaml:"dispatch_batch"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	HoldMaxAge       time.Duration `yaml:"hold_max_age"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Queue    QueueConfig    `yaml:"queue"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.API.TokenTTL <= 0 {
		cfg.API.TokenTTL = 24 * time.Hour
	}
	if cfg.API.RateLimit <= 0 {
		cfg.API.RateLimit = 60
	}
	if cfg.API.ShutdownGrace <= 0 {
		cfg.API.ShutdownGrace = 15 * time.Second
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Queue.Workers <= 0 {
		cfg.Queue.Workers = 8
	}
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = 500 * time.Millisecond
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffDelay <= 0 {
		cfg.Queue.BackoffDelay = time.Minute
	}
	if cfg.Queue.AttemptTimeout <= 0 {
		cfg.Queue.AttemptTimeout = 5 * time.Minute
	}
	if cfg.Queue.ReapInterval <= 0 {
		cfg.Queue.ReapInterval = time.Minute
	}
	if cfg.Queue.StaleAfter <= 0 {
		// Well past the attempt timeout, so only truly abandoned claims match.
		cfg.Queue.StaleAfter = 3 * cfg.Queue.AttemptTimeout
	}
	if cfg.Pipeline.StoryboardCost <= 0 {
		cfg.Pipeline.StoryboardCost = 5
	}
	if cfg.Pipeline.ClipCost <= 0 {
		cfg.Pipeline.ClipCost = 20
	}
	if cfg.Pipeline.ComposeCost <= 0 {
		cfg.Pipeline.ComposeCost = 10
	}
	if cfg.Pipeline.SyncInterval <= 0 {
		cfg.Pipeline.SyncInterval = 30 * time.Second
	}
	if cfg.Pipeline.DispatchInterval <= 0 {
		cfg.Pipeline.DispatchInterval = 15 * time.Second
	}
	if cfg.Pipeline.DispatchBatch <= 0 {
		cfg.Pipeline.DispatchBatch = 100
	}
	if cfg.Pipeline.SweepInterval <= 0 {
		cfg.Pipeline.SweepInterval = 5 * time.Minute
	}
	if cfg.Pipeline.HoldMaxAge <= 0 {
		cfg.Pipeline.HoldMaxAge = time.Hour
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	if cfg.API.JWTSecret == "" {
		return nil, errors.New("api.jwt_secret is required")
	}
	if !cfg.Provider.Noop && cfg.Provider.APIKey == "" {
		return nil, errors.New("provider.api_key is required unless provider.noop is set")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
