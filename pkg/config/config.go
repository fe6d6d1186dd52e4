// Package config loads the dvctl application configuration: a YAML file
// overlaid on defaults, then DVCTL_* environment overrides, then struct
// validation.
//
//	registry: ./dataverse-gen/registry.yaml
//	environment:
//	  url: https://org.crm.dynamics.com
//	  tokenEnv: DATAVERSE_TOKEN
//	  timeout: 30s
//	  timezone: Europe/London
//	workflow:
//	  top: 10
//	store:
//	  path: ./dvctl.db
//	policies: [./policies]
//	telemetry:
//	  logging: {level: info, format: console}
//
// Relative paths are resolved against the directory of the config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/scottdurow/dataverseify/pkg/telemetry"
)

// Environment variables that override file settings.
const (
	EnvURL       = "DVCTL_URL"
	EnvTokenEnv  = "DVCTL_TOKEN_ENV"
	EnvRegistry  = "DVCTL_REGISTRY"
	EnvStorePath = "DVCTL_STORE"
	EnvOffline   = "DVCTL_OFFLINE"
	EnvLogLevel  = "DVCTL_LOG_LEVEL"
)

// Config is the dvctl application configuration.
type Config struct {
	// Registry is the schema registry catalog file.
	Registry string `yaml:"registry" validate:"required"`

	Environment EnvironmentConfig `yaml:"environment"`
	Workflow    WorkflowConfig    `yaml:"workflow"`
	Store       StoreConfig       `yaml:"store"`

	// Policies lists extra .rego files or directories.
	Policies []string `yaml:"policies" validate:"dive,required"`

	// Offline serves every call from an in-memory store seeded with Fixtures.
	Offline  bool   `yaml:"offline"`
	Fixtures string `yaml:"fixtures"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

// EnvironmentConfig locates the remote service.
type EnvironmentConfig struct {
	// URL is the environment root, e.g. https://org.crm.dynamics.com.
	URL string `yaml:"url" validate:"omitempty,url"`

	// TokenEnv names the variable holding the bearer token.
	TokenEnv string `yaml:"tokenEnv" validate:"required"`

	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	Timezone string        `yaml:"timezone" validate:"omitempty,timezone"`
}

// WorkflowConfig tunes bulk transitions.
type WorkflowConfig struct {
	// Top bounds the records a run may transition.
	Top int `yaml:"top" validate:"gt=0,lte=5000"`

	AutoConfirm   bool          `yaml:"autoConfirm"`
	ScriptTimeout time.Duration `yaml:"scriptTimeout" validate:"gte=0"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	Path     string `yaml:"path" validate:"required_if=Disabled false"`
	Disabled bool   `yaml:"disabled"`

	// Retention removes runs older than this on startup. Zero keeps all.
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Registry: "registry.yaml",
		Environment: EnvironmentConfig{
			TokenEnv: "DATAVERSE_TOKEN",
			Timeout:  30 * time.Second,
		},
		Workflow: WorkflowConfig{
			Top:           10,
			ScriptTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Path: "dvctl.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == ":memory:" {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Registry = resolve(c.Registry)
	c.Fixtures = resolve(c.Fixtures)
	c.Store.Path = resolve(c.Store.Path)
	for i, p := range c.Policies {
		c.Policies[i] = resolve(p)
	}
	if c.Telemetry.Logging.Output != "stdout" && c.Telemetry.Logging.Output != "stderr" {
		c.Telemetry.Logging.Output = resolve(c.Telemetry.Logging.Output)
	}
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvURL); ok {
		c.Environment.URL = v
	}
	if v, ok := os.LookupEnv(EnvTokenEnv); ok {
		c.Environment.TokenEnv = v
	}
	if v, ok := os.LookupEnv(EnvRegistry); ok {
		c.Registry = v
	}
	if v, ok := os.LookupEnv(EnvStorePath); ok {
		c.Store.Path = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Telemetry.Logging.Level = v
	}
	if v, ok := os.LookupEnv(EnvOffline); ok {
		offline, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvOffline, err)
		}
		c.Offline = offline
	}
	return nil
}

// Validate checks struct constraints and the telemetry settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// RequireRemote reports an error when online commands cannot reach the
// service.
func (c *Config) RequireRemote() error {
	if c.Offline {
		return nil
	}
	if c.Environment.URL == "" {
		return fmt.Errorf("environment url is required; set it in the config file or %s", EnvURL)
	}
	return nil
}
