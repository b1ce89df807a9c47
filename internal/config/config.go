package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Vendor struct {
		ID         int64  `yaml:"id"`
		Name       string `yaml:"name"`
		WebsiteURL string `yaml:"website_url"`
	} `yaml:"vendor"`
	Exchange struct {
		Name     string `yaml:"name"`
		Currency string `yaml:"currency"`
	} `yaml:"exchange"`
	Fetch struct {
		Suffix  string `yaml:"suffix"`
		Workers int    `yaml:"workers"`
	} `yaml:"fetch"`
	Ingest struct {
		Sector         string `yaml:"sector"`
		ChunkSize      int    `yaml:"chunk_size"`
		ShortPause     string `yaml:"short_pause"`
		LongPause      string `yaml:"long_pause"`
		EmptyThreshold int    `yaml:"empty_threshold"`
		BackfillYears  int    `yaml:"backfill_years"`
	} `yaml:"ingest"`
	Schedule struct {
		Cron string `yaml:"cron"`
	} `yaml:"schedule"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error; defaults and
// environment alone are a valid configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("VENDOR_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Vendor.ID = id
		}
	}
	if v := os.Getenv("VENDOR_NAME"); v != "" {
		cfg.Vendor.Name = v
	}
	if v := os.Getenv("TICKER_SUFFIX"); v != "" {
		cfg.Fetch.Suffix = v
	}
	if v := os.Getenv("INGEST_SECTOR"); v != "" {
		cfg.Ingest.Sector = v
	}
	if v := os.Getenv("CRON_SCHEDULE"); v != "" {
		cfg.Schedule.Cron = v
	}
	if v := os.Getenv("FETCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Fetch.Workers = n
		}
	}

	// Defaults
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/stockdb.db"
	}
	if cfg.Vendor.Name == "" {
		cfg.Vendor.Name = "yahoo"
	}
	if cfg.Vendor.WebsiteURL == "" {
		cfg.Vendor.WebsiteURL = "https://finance.yahoo.com"
	}
	if cfg.Exchange.Name == "" {
		cfg.Exchange.Name = "KRX"
	}
	if cfg.Exchange.Currency == "" {
		cfg.Exchange.Currency = "KRW"
	}
	if cfg.Fetch.Workers == 0 {
		cfg.Fetch.Workers = 5
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 100
	}
	if cfg.Ingest.ShortPause == "" {
		cfg.Ingest.ShortPause = "10s"
	}
	if cfg.Ingest.LongPause == "" {
		cfg.Ingest.LongPause = "120s"
	}
	if cfg.Ingest.EmptyThreshold == 0 {
		cfg.Ingest.EmptyThreshold = 40
	}
	if cfg.Ingest.BackfillYears == 0 {
		cfg.Ingest.BackfillYears = 2
	}

	return cfg, nil
}

// Validate checks that all required fields are set and parseable.
func (c *Config) Validate() error {
	if c.Vendor.ID <= 0 && c.Vendor.Name == "" {
		return fmt.Errorf("vendor.id or vendor.name is required")
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive")
	}
	if c.Fetch.Workers <= 0 {
		return fmt.Errorf("fetch.workers must be positive")
	}
	if _, err := time.ParseDuration(c.Ingest.ShortPause); err != nil {
		return fmt.Errorf("ingest.short_pause: %w", err)
	}
	if _, err := time.ParseDuration(c.Ingest.LongPause); err != nil {
		return fmt.Errorf("ingest.long_pause: %w", err)
	}
	return nil
}

// ShortPause returns the parsed inter-chunk pause. Call Validate first.
func (c *Config) ShortPause() time.Duration {
	d, _ := time.ParseDuration(c.Ingest.ShortPause)
	return d
}

// LongPause returns the parsed backoff pause. Call Validate first.
func (c *Config) LongPause() time.Duration {
	d, _ := time.ParseDuration(c.Ingest.LongPause)
	return d
}
