// Package config provides configuration management for the Hyperion link server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the server.
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// CORS configuration, empty allows any origin
	CORSOrigin string

	// Home Assistant light backend, disabled when HassURL is empty
	HassURL   string
	HassToken string

	// Philips Hue light backend, disabled when HueBridgeIP is empty
	HueBridgeIP string
	HueAppKey   string

	// Hub and actuation timing
	HubQueryTimeout  time.Duration // connection validation
	ActuationTimeout time.Duration // one SetColor call
	ReconnectDelay   time.Duration // between hub stream attempts

	// Setup wizard
	WizardSessionTTL time.Duration

	// Load stored entries on boot
	Autostart bool
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port: getEnv("PORT", "4100"),
		Env:  getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "file:./hyperion-link.db"),

		// CORS
		CORSOrigin: getEnv("CORS_ORIGIN", ""),

		// Light backends
		HassURL:     getEnv("HASS_URL", ""),
		HassToken:   getEnv("HASS_TOKEN", ""),
		HueBridgeIP: getEnv("HUE_BRIDGE_IP", ""),
		HueAppKey:   getEnv("HUE_APP_KEY", ""),

		// Timing
		HubQueryTimeout:  getEnvDuration("HUB_QUERY_TIMEOUT", 5*time.Second),
		ActuationTimeout: getEnvDuration("ACTUATION_TIMEOUT", 2*time.Second),
		ReconnectDelay:   getEnvDuration("RECONNECT_DELAY", 5*time.Second),

		// Wizard
		WizardSessionTTL: getEnvDuration("WIZARD_SESSION_TTL", 15*time.Minute),

		Autostart: getEnvBool("AUTOSTART", true),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the duration value of an environment variable or a default value.
// Values are Go durations ("750ms", "15m"); a bare integer is read as milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		if ms := getEnvInt(key, -1); ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
