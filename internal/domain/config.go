// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	SessionSecret string `toml:"sessionSecret" mapstructure:"sessionSecret"`
	SigningSecret string `toml:"signingSecret" mapstructure:"signingSecret"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	// Database configuration. SQLite is the default engine; postgres is
	// selected with databaseEngine = "postgres".
	DatabaseEngine          string `toml:"databaseEngine" mapstructure:"databaseEngine"`
	DatabasePath            string `toml:"databasePath" mapstructure:"databasePath"`
	DatabaseDSN             string `toml:"databaseDsn" mapstructure:"databaseDsn"`
	DatabaseHost            string `toml:"databaseHost" mapstructure:"databaseHost"`
	DatabasePort            int    `toml:"databasePort" mapstructure:"databasePort"`
	DatabaseUser            string `toml:"databaseUser" mapstructure:"databaseUser"`
	DatabasePassword        string `toml:"databasePassword" mapstructure:"databasePassword"`
	DatabaseName            string `toml:"databaseName" mapstructure:"databaseName"`
	DatabaseSSLMode         string `toml:"databaseSslMode" mapstructure:"databaseSslMode"`
	DatabaseConnectTimeout  int    `toml:"databaseConnectTimeout" mapstructure:"databaseConnectTimeout"`
	DatabaseMaxOpenConns    int    `toml:"databaseMaxOpenConns" mapstructure:"databaseMaxOpenConns"`
	DatabaseMaxIdleConns    int    `toml:"databaseMaxIdleConns" mapstructure:"databaseMaxIdleConns"`
	DatabaseConnMaxLifetime int    `toml:"databaseConnMaxLifetime" mapstructure:"databaseConnMaxLifetime"`

	// Rate limiting for the activation entry point. ActivationRateLimit
	// requests per ActivationRateWindow seconds, keyed by client IP and by
	// license key. RedisAddr switches the counters to a shared Redis store
	// so limits hold across multiple instances.
	ActivationRateLimit  int    `toml:"activationRateLimit" mapstructure:"activationRateLimit"`
	ActivationRateWindow int    `toml:"activationRateWindow" mapstructure:"activationRateWindow"`
	ValidationRateLimit  int    `toml:"validationRateLimit" mapstructure:"validationRateLimit"`
	ValidationRateWindow int    `toml:"validationRateWindow" mapstructure:"validationRateWindow"`
	GlobalRateLimitRPS   int    `toml:"globalRateLimitRps" mapstructure:"globalRateLimitRps"`
	RedisAddr            string `toml:"redisAddr" mapstructure:"redisAddr"`
	RedisPassword        string `toml:"redisPassword" mapstructure:"redisPassword"`
	RedisDB              int    `toml:"redisDb" mapstructure:"redisDb"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	PprofEnabled bool `toml:"pprofEnabled" mapstructure:"pprofEnabled"`
}

// ValidateSecrets checks that the secrets required at startup are present
// and usable. The signing secret gates all activation tokens, so a missing
// or blank value is a hard startup error rather than something to limp
// along without.
func (c *Config) ValidateSecrets() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return errors.New("sessionSecret is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return errors.New("signingSecret is required")
	}
	if len(c.SigningSecret) < 32 {
		return fmt.Errorf("signingSecret must be at least 32 characters, got %d", len(c.SigningSecret))
	}
	return nil
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
