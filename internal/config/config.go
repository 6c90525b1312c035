package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all alia configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Reasoning core limits and clock
	Core CoreLimits `yaml:"core"`

	// On-disk knowledge base
	KB KBConfig `yaml:"kb"`

	// Per-robot scalar values (gains, rates, limits) read by kernels
	Robot RobotConfig `yaml:"robot"`

	// Persistence
	Store StoreConfig `yaml:"store"`

	// Background runner
	Host HostConfig `yaml:"host"`

	// Remote body connection
	Transport TransportConfig `yaml:"transport"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// KBConfig locates the knowledge base and selects the robot.
type KBConfig struct {
	Dir       string `yaml:"dir" validate:"required"`
	Robot     string `yaml:"robot"` // full robot name, last word selects config/<last>_vals.yaml
	Label     string `yaml:"label"` // program label shown in logs
	Watch     bool   `yaml:"watch"` // hot reload learned.pref
	ScriptDir string `yaml:"script_dir"`
}

// RobotConfig holds the named values loaded from config/<last>_vals.yaml.
type RobotConfig struct {
	Vals map[string]float64 `yaml:"vals"`
}

// StoreConfig configures the sqlite databases.
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LearnedPath string `yaml:"learned_path"` // relative to KB dir
	JournalPath string `yaml:"journal_path"` // relative to KB dir
}

// HostConfig configures the background runner.
type HostConfig struct {
	Metrics     bool   `yaml:"metrics"`
	Tracing     bool   `yaml:"tracing"`
	Burst       int    `yaml:"burst" validate:"min=1"`
	StopTimeout string `yaml:"stop_timeout"`
	DumpEvery   string `yaml:"dump_every"` // journal a working-memory dump this often, "" for never
	Outbox      int    `yaml:"outbox" validate:"min=1"`
}

// TransportConfig configures the websocket body bridge.
type TransportConfig struct {
	Listen      string `yaml:"listen" validate:"required"`
	ReadTimeout string `yaml:"read_timeout"`
	GinMode     string `yaml:"gin_mode" validate:"oneof=debug release test"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "alia",
		Version: "1.0.0",

		Core: DefaultCoreLimits(),

		KB: KBConfig{
			Dir:       ".",
			Robot:     "",
			Label:     "alia",
			Watch:     false,
			ScriptDir: "KB0/scripts",
		},

		Robot: RobotConfig{Vals: map[string]float64{}},

		Store: StoreConfig{
			Enabled:     false,
			LearnedPath: "KB/learned.db",
			JournalPath: "dump/journal.db",
		},

		Host: HostConfig{
			Metrics:     true,
			Tracing:     false,
			Burst:       1,
			StopTimeout: "2s",
			DumpEvery:   "30s",
			Outbox:      64,
		},

		Transport: TransportConfig{
			Listen:      "127.0.0.1:7470",
			ReadTimeout: "30s",
			GinMode:     "release",
		},

		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("ALIA_DIR"); dir != "" {
		c.KB.Dir = dir
	}
	if v := os.Getenv("ALIA_DEBUG"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = on
			if on {
				c.Logging.Level = "debug"
			}
		}
	}
	if addr := os.Getenv("ALIA_LISTEN"); addr != "" {
		c.Transport.Listen = addr
	}
}

// LastName returns the final word of the robot name, used to pick the
// per-robot values file. Empty if no robot is named.
func (c *Config) LastName() string {
	parts := strings.Fields(c.KB.Robot)
	if len(parts) == 0 {
		return ""
	}
	return strings.ToLower(parts[len(parts)-1])
}

// ValsPath returns config/<last>_vals.yaml under the KB dir, or "".
func (c *Config) ValsPath() string {
	last := c.LastName()
	if last == "" {
		return ""
	}
	return filepath.Join(c.KB.Dir, "config", last+"_vals.yaml")
}

// LoadVals merges the per-robot values file over the current config.
// A missing file leaves the config unchanged.
func (c *Config) LoadVals() error {
	path := c.ValsPath()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read robot values: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse robot values %s: %w", path, err)
	}
	if c.Robot.Vals == nil {
		c.Robot.Vals = map[string]float64{}
	}
	return nil
}

// Val returns a named robot value or def when unset.
func (c *Config) Val(name string, def float64) float64 {
	if v, ok := c.Robot.Vals[name]; ok {
		return v
	}
	return def
}

// Resolve makes a path relative to the KB dir absolute.
func (c *Config) Resolve(rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.KB.Dir, rel)
}

// GetStopTimeout returns the host stop timeout as a duration.
func (c *Config) GetStopTimeout() time.Duration {
	d, err := time.ParseDuration(c.Host.StopTimeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// GetDumpEvery returns the journal dump period, zero when disabled.
func (c *Config) GetDumpEvery() time.Duration {
	if c.Host.DumpEvery == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Host.DumpEvery)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetReadTimeout returns the transport read timeout as a duration.
func (c *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Transport.ReadTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

var validate = validator.New()

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.ValidateCoreLimits(); err != nil {
		return err
	}
	if !c.Logging.validLevel() {
		return fmt.Errorf("invalid logging level: %s (valid: %v)", c.Logging.Level, ValidLevels)
	}
	return nil
}
