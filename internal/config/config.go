// Copyright (c) 2026, the keygate contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/keygate/keygate/internal/domain"
)

// AppConfig wraps the parsed configuration together with the location it
// was loaded from, so relative paths (database, logs) can resolve next to
// the config file.
type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string
}

// New loads configuration from the given path, or from the default config
// directory when path is empty. A missing config file is created with
// commented defaults on first run.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	c.Config = &domain.Config{
		Host:                 "localhost",
		Port:                 7575,
		BaseURL:              "/",
		LogLevel:             "INFO",
		LogMaxSize:           50,
		LogMaxBackups:        3,
		DatabaseEngine:       "sqlite",
		DatabaseSSLMode:      "disable",
		ActivationRateLimit:  10,
		ActivationRateWindow: 60,
		ValidationRateLimit:  60,
		ValidationRateWindow: 60,
		GlobalRateLimitRPS:   0,
		MetricsHost:          "127.0.0.1",
		MetricsPort:          9074,
	}

	c.viper.SetDefault("host", c.Config.Host)
	c.viper.SetDefault("port", c.Config.Port)
	c.viper.SetDefault("baseUrl", c.Config.BaseURL)
	c.viper.SetDefault("logLevel", c.Config.LogLevel)
	c.viper.SetDefault("logMaxSize", c.Config.LogMaxSize)
	c.viper.SetDefault("logMaxBackups", c.Config.LogMaxBackups)
	c.viper.SetDefault("databaseEngine", c.Config.DatabaseEngine)
	c.viper.SetDefault("databaseSslMode", c.Config.DatabaseSSLMode)
	c.viper.SetDefault("activationRateLimit", c.Config.ActivationRateLimit)
	c.viper.SetDefault("activationRateWindow", c.Config.ActivationRateWindow)
	c.viper.SetDefault("validationRateLimit", c.Config.ValidationRateLimit)
	c.viper.SetDefault("validationRateWindow", c.Config.ValidationRateWindow)
	c.viper.SetDefault("globalRateLimitRps", c.Config.GlobalRateLimitRPS)
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", c.Config.MetricsHost)
	c.viper.SetDefault("metricsPort", c.Config.MetricsPort)
	c.viper.SetDefault("pprofEnabled", false)
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	// Environment variables always win: KEYGATE__DATABASE_PATH maps to
	// databasePath and so on.
	c.viper.SetEnvPrefix("KEYGATE_")
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.viper.AutomaticEnv()
	c.bindEnvAliases()

	if configPath != "" {
		if fi, err := os.Stat(configPath); err == nil && fi.IsDir() {
			configPath = filepath.Join(configPath, "config.toml")
		}
		c.viper.SetConfigFile(configPath)
		c.configPath = configPath
	} else {
		dir := getDefaultConfigDir()
		c.configPath = filepath.Join(dir, "config.toml")
		c.viper.SetConfigFile(c.configPath)
	}

	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		if err := c.writeDefaultConfig(); err != nil {
			return err
		}
	}

	if err := c.viper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "config read error: %s", c.configPath)
	}

	return nil
}

// bindEnvAliases maps KEYGATE__SNAKE_CASE variables onto the camelCase
// viper keys used by the TOML file.
func (c *AppConfig) bindEnvAliases() {
	aliases := map[string]string{
		"host":                  "KEYGATE__HOST",
		"port":                  "KEYGATE__PORT",
		"baseUrl":               "KEYGATE__BASE_URL",
		"sessionSecret":         "KEYGATE__SESSION_SECRET",
		"signingSecret":         "KEYGATE__SIGNING_SECRET",
		"logLevel":              "KEYGATE__LOG_LEVEL",
		"logPath":               "KEYGATE__LOG_PATH",
		"dataDir":               "KEYGATE__DATA_DIR",
		"databaseEngine":        "KEYGATE__DATABASE_ENGINE",
		"databasePath":          "KEYGATE__DATABASE_PATH",
		"databaseDsn":           "KEYGATE__DATABASE_DSN",
		"databaseHost":          "KEYGATE__DATABASE_HOST",
		"databasePort":          "KEYGATE__DATABASE_PORT",
		"databaseUser":          "KEYGATE__DATABASE_USER",
		"databasePassword":      "KEYGATE__DATABASE_PASSWORD",
		"databaseName":          "KEYGATE__DATABASE_NAME",
		"databaseSslMode":       "KEYGATE__DATABASE_SSL_MODE",
		"activationRateLimit":   "KEYGATE__ACTIVATION_RATE_LIMIT",
		"activationRateWindow":  "KEYGATE__ACTIVATION_RATE_WINDOW",
		"validationRateLimit":   "KEYGATE__VALIDATION_RATE_LIMIT",
		"validationRateWindow":  "KEYGATE__VALIDATION_RATE_WINDOW",
		"globalRateLimitRps":    "KEYGATE__GLOBAL_RATE_LIMIT_RPS",
		"redisAddr":             "KEYGATE__REDIS_ADDR",
		"redisPassword":         "KEYGATE__REDIS_PASSWORD",
		"redisDb":               "KEYGATE__REDIS_DB",
		"metricsEnabled":        "KEYGATE__METRICS_ENABLED",
		"metricsHost":           "KEYGATE__METRICS_HOST",
		"metricsPort":           "KEYGATE__METRICS_PORT",
		"metricsBasicAuthUsers": "KEYGATE__METRICS_BASIC_AUTH_USERS",
		"pprofEnabled":          "KEYGATE__PPROF_ENABLED",
	}

	for key, env := range aliases {
		if err := c.viper.BindEnv(key, env); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to bind environment variable")
		}
	}
}

func getDefaultConfigDir() string {
	// Docker images set XDG_CONFIG_HOME=/config; use it directly there so
	// the database lands in the mounted volume.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "keygate")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "keygate")
}

func (c *AppConfig) writeDefaultConfig() error {
	if err := WriteDefaultConfig(c.configPath); err != nil {
		return err
	}

	log.Info().Str("path", c.configPath).Msg("Created default config file")
	return nil
}

// WriteDefaultConfig writes the commented default config, with freshly
// generated secrets, to the given path.
func WriteDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create config directory: %s", dir)
	}

	sessionSecret, err := generateSecret()
	if err != nil {
		return errors.Wrap(err, "failed to generate session secret")
	}
	signingSecret, err := generateSecret()
	if err != nil {
		return errors.Wrap(err, "failed to generate signing secret")
	}

	content := fmt.Sprintf(defaultConfigTemplate, sessionSecret, signingSecret)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return errors.Wrapf(err, "failed to write config file: %s", path)
	}

	return nil
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetDatabasePath resolves the SQLite database location. Explicit settings
// win; otherwise the database lives next to the config file.
func (c *AppConfig) GetDatabasePath() string {
	if c.Config.DatabasePath != "" {
		return c.Config.DatabasePath
	}
	if c.Config.DataDir != "" {
		return filepath.Join(c.Config.DataDir, "keygate.db")
	}
	return filepath.Join(filepath.Dir(c.configPath), "keygate.db")
}

// GetLogPath returns the configured log file path, resolved relative to
// the config directory when not absolute. Empty means log to stdout only.
func (c *AppConfig) GetLogPath() string {
	if c.Config.LogPath == "" {
		return ""
	}
	if filepath.IsAbs(c.Config.LogPath) {
		return c.Config.LogPath
	}
	return filepath.Join(filepath.Dir(c.configPath), c.Config.LogPath)
}

// ConfigPath returns the location of the loaded config file.
func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP for the API server
#
# Default: "localhost"
#
host = "localhost"

# Port for the API server
#
# Default: 7575
#
port = 7575

# Base URL for serving behind a reverse proxy subfolder
# Example: "/keygate/"
#
# Default: "/"
#
#baseUrl = "/"

# Session secret for admin session cookies
#
sessionSecret = "%s"

# Signing secret for activation tokens
# Must be at least 32 characters. Changing it invalidates every token
# already issued.
#
signingSecret = "%s"

# Database engine
# Options: "sqlite", "postgres"
#
# Default: "sqlite"
#
#databaseEngine = "sqlite"

# SQLite database path
# If not defined, the database is created next to this config file
# Optional
#
#databasePath = ""

# Postgres connection, used when databaseEngine = "postgres"
# Either a full DSN or the individual fields below
#
#databaseDsn = ""
#databaseHost = "localhost"
#databasePort = 5432
#databaseUser = "keygate"
#databasePassword = ""
#databaseName = "keygate"
#databaseSslMode = "disable"

# Activation endpoint rate limit: requests per window, keyed by client IP
# and by license key
#
# Default: 10 per 60 seconds
#
#activationRateLimit = 10
#activationRateWindow = 60

# Validation endpoint rate limit
#
# Default: 60 per 60 seconds
#
#validationRateLimit = 60
#validationRateWindow = 60

# Global requests-per-second ceiling across the whole API (0 disables)
#
# Default: 0
#
#globalRateLimitRps = 0

# Redis address for shared rate limit counters across instances
# Example: "localhost:6379"
# Optional
#
#redisAddr = ""
#redisPassword = ""
#redisDb = 0

# Log file path
# If not defined, logs to stdout
# Optional
#
#logPath = "log/keygate.log"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
#
logLevel = "INFO"

# Log rotation
# Maximum log file size in megabytes before rotation
# Default: 50
#
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#
#logMaxBackups = 3

# Prometheus metrics listener
#
# Default: disabled
#
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074
#metricsBasicAuthUsers = ""

# pprof profiling server on port 6060
#
# Default: false
#
#pprofEnabled = false
`
