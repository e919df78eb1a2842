// Package config loads and validates the testpilot configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind             = ":8080"
	DefaultDatabasePath     = "testpilot.db"
	DefaultLogDir           = "logs"
	DefaultLogLevel         = "info"
	DefaultArtifactDir      = "artifacts"
	DefaultMaxConcurrent    = 4
	DefaultLocatorTimeoutMs = 5000
	DefaultViewportWidth    = 1280
	DefaultViewportHeight   = 720
)

// Config represents the complete testpilot configuration
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Logs      LogConfig      `yaml:"logs"`
	Artifacts ArtifactConfig `yaml:"artifacts"`
	Browser   BrowserConfig  `yaml:"browser"`
	Runs      RunConfig      `yaml:"runs"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

type ArtifactConfig struct {
	Dir         string `yaml:"dir"`
	RecordVideo bool   `yaml:"record_video"`
}

type BrowserConfig struct {
	// ExecPath overrides the browser binary location
	ExecPath string `yaml:"exec_path"`
	// Headless is the default when a run does not say otherwise
	Headless       bool `yaml:"headless"`
	ViewportWidth  int  `yaml:"viewport_width"`
	ViewportHeight int  `yaml:"viewport_height"`
}

type RunConfig struct {
	MaxConcurrent    int `yaml:"max_concurrent"`
	LocatorTimeoutMs int `yaml:"locator_timeout_ms"`
}

// Default returns a config populated with every default value.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Bind: DefaultBind},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Logs:     LogConfig{Dir: DefaultLogDir, Level: DefaultLogLevel},
		Artifacts: ArtifactConfig{
			Dir: DefaultArtifactDir,
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  DefaultViewportWidth,
			ViewportHeight: DefaultViewportHeight,
		},
		Runs: RunConfig{
			MaxConcurrent:    DefaultMaxConcurrent,
			LocatorTimeoutMs: DefaultLocatorTimeoutMs,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not an
// error; the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Bind == "" {
		return fmt.Errorf("server.bind must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	switch c.Logs.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logs.level must be one of debug, info, warn, error; got %q", c.Logs.Level)
	}
	if c.Runs.MaxConcurrent <= 0 {
		return fmt.Errorf("runs.max_concurrent must be positive; got %d", c.Runs.MaxConcurrent)
	}
	if c.Runs.LocatorTimeoutMs <= 0 {
		return fmt.Errorf("runs.locator_timeout_ms must be positive; got %d", c.Runs.LocatorTimeoutMs)
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive; got %dx%d", c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Artifacts.RecordVideo && c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir is required when record_video is on")
	}
	return nil
}
