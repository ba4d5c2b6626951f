// pkg/config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Database connections
	Warehouse  *WarehouseConfig
	AuditStore *AuditStoreConfig

	// Deployment identity. Never hardcoded: the QA and MAIN variants
	// close their fiscal view in different calendar months.
	Environment  string
	YearEndMonth time.Month

	// Validation settings
	DefaultThresholdPct float64
	HistoricalSuffixes  []string
	MaxCheckQueryBytes  int

	// Remediation settings
	PollInterval time.Duration
	MaxWait      time.Duration
	DedupWindow  time.Duration
	StuckAfter   time.Duration
	ScriptDir    string
	RegistryPath string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		// Default values
		Environment:         getEnv("MDC_ENVIRONMENT", "MAIN"),
		YearEndMonth:        time.Month(getEnvAsInt("MDC_YEAR_END_MONTH", 8)),
		DefaultThresholdPct: getEnvAsFloat("MDC_DEFAULT_THRESHOLD_PCT", 10),
		HistoricalSuffixes:  getEnvAsStringSlice("MDC_HISTORICAL_SUFFIXES", []string{"_HIST"}),
		MaxCheckQueryBytes:  getEnvAsInt("MDC_MAX_CHECK_QUERY_BYTES", 32*1024),
		PollInterval:        time.Duration(getEnvAsInt("MDC_POLL_INTERVAL_SECONDS", 60)) * time.Second,
		MaxWait:             time.Duration(getEnvAsInt("MDC_MAX_WAIT_MINUTES", 120)) * time.Minute,
		DedupWindow:         time.Duration(getEnvAsInt("MDC_DEDUP_WINDOW_HOURS", 24)) * time.Hour,
		StuckAfter:          time.Duration(getEnvAsInt("MDC_STUCK_AFTER_HOURS", 4)) * time.Hour,
		ScriptDir:           getEnv("MDC_SCRIPT_DIR", "scripts/purge_fixes"),
		RegistryPath:        getEnv("MDC_REGISTRY_PATH", "mdc_registry.yml"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
	}

	// Load database configurations
	whConfig, err := LoadWarehouseConfig()
	if err != nil {
		return nil, errors.New("failed to load warehouse configuration: " + err.Error())
	}
	cfg.Warehouse = whConfig

	auditConfig, err := LoadAuditStoreConfig()
	if err != nil {
		return nil, errors.New("failed to load audit store configuration: " + err.Error())
	}
	cfg.AuditStore = auditConfig

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Warehouse == nil {
		return errors.New("warehouse configuration is required")
	}

	if c.AuditStore == nil {
		return errors.New("audit store configuration is required")
	}

	if c.Environment == "" {
		return errors.New("environment name is required")
	}

	if c.YearEndMonth < time.January || c.YearEndMonth > time.December {
		return errors.New("year-end month must be a valid calendar month")
	}

	if c.DefaultThresholdPct < 0 || c.DefaultThresholdPct > 100 {
		return errors.New("default threshold must be between 0 and 100")
	}

	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}

	if c.MaxWait <= 0 {
		return errors.New("max wait must be positive")
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var result []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
