package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"broker-observer/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// SupportedBrokers is the closed set of broker adapters.
var SupportedBrokers = map[string]bool{
	"kite":    true,
	"shoonya": true,
	"neo":     true,
}

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Market.Timezone == "" {
		c.Market.Timezone = "Asia/Kolkata"
	}
	if c.Market.Open == "" {
		c.Market.Open = "09:15"
	}
	if c.Market.Close == "" {
		c.Market.Close = "15:30"
	}
	if c.Poller.PollIntervalSeconds <= 0 {
		c.Poller.PollIntervalSeconds = 1
	}
	if c.Poller.FeedBackoffSeconds <= 0 {
		c.Poller.FeedBackoffSeconds = 5
	}
	if c.Poller.MaxWaitMinutes <= 0 {
		c.Poller.MaxWaitMinutes = 5
	}
	if c.Streamer.StreamGapSeconds <= 0 {
		c.Streamer.StreamGapSeconds = 5
	}
	if c.Analysis.RiskFreeRate == 0 {
		c.Analysis.RiskFreeRate = 0.06
	}
	if c.Analysis.ImpliedVol == 0 {
		c.Analysis.ImpliedVol = 0.18
	}
	if c.Storage.RetentionDays <= 0 {
		c.Storage.RetentionDays = 30
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Server configuration
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Shared store
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty")
	}

	// Broker registry
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker must be configured")
	}
	for name, accounts := range c.Brokers {
		if !SupportedBrokers[strings.ToLower(name)] {
			return fmt.Errorf("unsupported broker: %s", name)
		}
		if len(accounts) == 0 {
			return fmt.Errorf("broker '%s' must have at least one account", name)
		}
		for i, acct := range accounts {
			if strings.TrimSpace(acct) == "" {
				return fmt.Errorf("broker '%s' account %d is empty", name, i)
			}
		}
	}

	// Market configuration
	if c.Market.TickFeedURL == "" {
		return fmt.Errorf("tick feed url cannot be empty")
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("invalid market timezone '%s': %w", c.Market.Timezone, err)
	}
	if _, err := time.Parse("15:04", c.Market.Open); err != nil {
		return fmt.Errorf("invalid market open time '%s'", c.Market.Open)
	}
	if _, err := time.Parse("15:04", c.Market.Close); err != nil {
		return fmt.Errorf("invalid market close time '%s'", c.Market.Close)
	}

	// Storage configuration
	if c.Storage.DBType == "" {
		return fmt.Errorf("database type cannot be empty")
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("connection string cannot be empty for postgres")
	}

	// Derivative metadata
	for prefix, d := range c.Derivatives {
		if d.Underlying == "" || d.Exchange == "" {
			return fmt.Errorf("derivative segment '%s' must have underlying and exchange", prefix)
		}
		if d.ExpiryWeekday < 0 || d.ExpiryWeekday > 6 {
			return fmt.Errorf("derivative segment '%s' has invalid expiry weekday %d", prefix, d.ExpiryWeekday)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Location returns the market timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, _ := time.LoadLocation(c.Market.Timezone)
	return loc
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
