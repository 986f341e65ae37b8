package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halfdome/lightstated/internal/platform"
)

// Manager defaults
const (
	DefaultTransition   = 1.0
	DefaultSaveInterval = 300 // seconds
)

// Config represents the application configuration
type Config struct {
	HomeAssistant   HomeAssistantConfig `yaml:"home_assistant"`
	Manager         ManagerConfig       `yaml:"manager"`
	Database        DatabaseConfig      `yaml:"database"`
	Ledger          LedgerConfig        `yaml:"ledger"`
	Log             LogConfig           `yaml:"log"`
	EventBus        EventBusConfig      `yaml:"eventbus"`
	API             APIConfig           `yaml:"api"`
	ShutdownTimeout Duration            `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// HomeAssistantConfig contains Home Assistant connection settings
type HomeAssistantConfig struct {
	Address string   `yaml:"address"`
	Token   string   `yaml:"token"`
	Timeout Duration `yaml:"timeout"` // HTTP timeout for REST API requests

	// Websocket event stream reconnect settings
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite (default: 0)

	RateLimitRPS float64 `yaml:"rate_limit_rps"` // Service call rate limit (default: 10)
}

// ManagerConfig contains the light state manager settings
type ManagerConfig struct {
	Lights        []string `yaml:"lights"`         // Default targets for periodic save and motion restore
	MotionSensors []string `yaml:"motion_sensors"` // Motion-triggered restore is enabled when non-empty
	Transition    *float64 `yaml:"transition"`     // Restore transition in seconds, range [0,10]
	SaveInterval  *int     `yaml:"save_interval"`  // Periodic save cadence in seconds, 0 disables
}

// GetTransition returns the restore transition with default
func (c *ManagerConfig) GetTransition() float64 {
	if c.Transition == nil {
		return DefaultTransition
	}
	return *c.Transition
}

// GetSaveInterval returns the periodic save cadence with default.
// Zero means periodic save is disabled.
func (c *ManagerConfig) GetSaveInterval() time.Duration {
	if c.SaveInterval == nil {
		return DefaultSaveInterval * time.Second
	}
	return time.Duration(*c.SaveInterval) * time.Second
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains notification ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// APIConfig contains the service API server settings
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// IsEnabled returns whether the API server is enabled (default: true)
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "./lightstated.sqlite"
	}

	// Home Assistant defaults
	if c.HomeAssistant.Timeout == 0 {
		c.HomeAssistant.Timeout = Duration(30 * time.Second)
	}
	if c.HomeAssistant.MinRetryBackoff == 0 {
		c.HomeAssistant.MinRetryBackoff = Duration(1 * time.Second)
	}
	if c.HomeAssistant.MaxRetryBackoff == 0 {
		c.HomeAssistant.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if c.HomeAssistant.RetryMultiplier == 0 {
		c.HomeAssistant.RetryMultiplier = 2.0
	}
	if c.HomeAssistant.RateLimitRPS == 0 {
		c.HomeAssistant.RateLimitRPS = 10.0
	}

	// Ledger defaults
	if c.Ledger.CleanupInterval == 0 {
		c.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if c.Ledger.RetentionDays == 0 {
		c.Ledger.RetentionDays = 30
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8130
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the configuration for invalid or out-of-range values.
func (c *Config) Validate() error {
	if c.HomeAssistant.Address == "" {
		return fmt.Errorf("home_assistant.address is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token is required")
	}

	if len(c.Manager.Lights) == 0 {
		return fmt.Errorf("manager.lights must list at least one light")
	}
	for _, id := range c.Manager.Lights {
		if !platform.ValidEntityID(id) {
			return fmt.Errorf("manager.lights: invalid entity id %q", id)
		}
		if platform.Domain(id) != "light" {
			return fmt.Errorf("manager.lights: %q is not a light entity", id)
		}
	}
	for _, id := range c.Manager.MotionSensors {
		if !platform.ValidEntityID(id) {
			return fmt.Errorf("manager.motion_sensors: invalid entity id %q", id)
		}
	}

	if t := c.Manager.GetTransition(); t < 0 || t > 10 {
		return fmt.Errorf("manager.transition must be within [0, 10] seconds, got %v", t)
	}
	if c.Manager.SaveInterval != nil {
		if si := *c.Manager.SaveInterval; si != 0 && (si < 60 || si > 3600) {
			return fmt.Errorf("manager.save_interval must be 0 or within [60, 3600] seconds, got %d", si)
		}
	}

	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
