package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Reader backends.
const (
	BackendSim  = "sim"
	BackendLine = "line"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scan      ScanConfig      `yaml:"scan"`
	Reader    ReaderConfig    `yaml:"reader"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Sink      SinkConfig      `yaml:"sink"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AuthToken      string   `yaml:"auth_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type ScanConfig struct {
	RetryDelay time.Duration `yaml:"retry_delay"`
	InboxSize  int           `yaml:"inbox_size"`
}

type ReaderConfig struct {
	Backend string `yaml:"backend"`
	Device  string `yaml:"device"`
	Enabled bool   `yaml:"enabled"`
	Echo    int    `yaml:"echo"` // sim only: discoveries reported per tap
}

type LifecycleConfig struct {
	RestrictedDeactivation bool          `yaml:"restricted_deactivation"`
	NudgeHold              time.Duration `yaml:"nudge_hold"`
	WatchForeground        bool          `yaml:"watch_foreground"`
	WatchInterval          time.Duration `yaml:"watch_interval"`
}

type SinkConfig struct {
	SendBuffer int `yaml:"send_buffer"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8765,
			Host: "127.0.0.1",
		},
		Scan: ScanConfig{
			RetryDelay: 250 * time.Millisecond,
			InboxSize:  32,
		},
		Reader: ReaderConfig{
			Backend: BackendSim,
			Enabled: true,
			Echo:    1,
		},
		Lifecycle: LifecycleConfig{
			RestrictedDeactivation: true,
			NudgeHold:              50 * time.Millisecond,
			WatchInterval:          500 * time.Millisecond,
		},
		Sink: SinkConfig{
			SendBuffer: 16,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Scan.RetryDelay <= 0 {
		return fmt.Errorf("scan.retry_delay must be positive")
	}
	if c.Scan.InboxSize <= 0 {
		return fmt.Errorf("scan.inbox_size must be positive")
	}
	switch c.Reader.Backend {
	case BackendSim:
		if c.Reader.Echo <= 0 {
			return fmt.Errorf("reader.echo must be positive")
		}
	case BackendLine:
		if c.Reader.Device == "" {
			return fmt.Errorf("reader.device is required for the %q backend", BackendLine)
		}
	default:
		return fmt.Errorf("unknown reader.backend %q", c.Reader.Backend)
	}
	if c.Lifecycle.NudgeHold < 0 {
		return fmt.Errorf("lifecycle.nudge_hold must not be negative")
	}
	if c.Lifecycle.WatchForeground && c.Lifecycle.WatchInterval <= 0 {
		return fmt.Errorf("lifecycle.watch_interval must be positive")
	}
	if c.Sink.SendBuffer <= 0 {
		return fmt.Errorf("sink.send_buffer must be positive")
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
