// Package config loads the service configuration: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"filing-engine/internal/pricing"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverCMS    = "cms"
)

type Config struct {
	Server   ServerConfig       `yaml:"server"`
	Schemas  SchemaConfig       `yaml:"schemas"`
	Store    StoreConfig        `yaml:"store"`
	Autosave AutosaveConfig     `yaml:"autosave"`
	Log      LogConfig          `yaml:"log"`
	Legacy   pricing.LegacyFees `yaml:"legacyPricing"`
}

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

type SchemaConfig struct {
	// Dir holds schema files overriding the built-in ones. Empty uses the
	// built-in schemas only.
	Dir         string        `yaml:"dir"`
	DefaultYear int           `yaml:"defaultYear"`
	Watch       bool          `yaml:"watch"`
	Debounce    time.Duration `yaml:"debounce"`
}

type StoreConfig struct {
	Driver     string        `yaml:"driver"`
	Path       string        `yaml:"path"`
	CMSURL     string        `yaml:"cmsUrl"`
	CMSTimeout time.Duration `yaml:"cmsTimeout"`
}

type AutosaveConfig struct {
	Delay time.Duration `yaml:"delay"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Schemas: SchemaConfig{
			DefaultYear: 2024,
			Watch:       true,
			Debounce:    250 * time.Millisecond,
		},
		Store: StoreConfig{
			Driver:     DriverMemory,
			Path:       "data/filings.db",
			CMSTimeout: 5 * time.Second,
		},
		Autosave: AutosaveConfig{Delay: 1500 * time.Millisecond},
		Log:      LogConfig{Level: "info"},
		Legacy:   pricing.DefaultLegacyFees,
	}
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Schemas.DefaultYear <= 0 {
		return fmt.Errorf("schemas.defaultYear must be positive")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverCMS:
		if c.Store.CMSURL == "" {
			return fmt.Errorf("store.cmsUrl is required for the cms driver")
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, sqlite, cms", c.Store.Driver)
	}
	if c.Autosave.Delay < 0 {
		return fmt.Errorf("autosave.delay must not be negative")
	}
	if c.Legacy.TaxRate < 0 || c.Legacy.TaxRate > 1 {
		return fmt.Errorf("legacyPricing.taxRate must be between 0 and 1")
	}
	return nil
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge copies the non-zero values of other over c. Booleans can only be
// switched on by a file.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Server.Port != "" {
		c.Server.Port = other.Server.Port
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}

	if other.Schemas.Dir != "" {
		c.Schemas.Dir = other.Schemas.Dir
	}
	if other.Schemas.DefaultYear != 0 {
		c.Schemas.DefaultYear = other.Schemas.DefaultYear
	}
	if other.Schemas.Watch {
		c.Schemas.Watch = true
	}
	if other.Schemas.Debounce != 0 {
		c.Schemas.Debounce = other.Schemas.Debounce
	}

	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.CMSURL != "" {
		c.Store.CMSURL = other.Store.CMSURL
	}
	if other.Store.CMSTimeout != 0 {
		c.Store.CMSTimeout = other.Store.CMSTimeout
	}

	if other.Autosave.Delay != 0 {
		c.Autosave.Delay = other.Autosave.Delay
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Development {
		c.Log.Development = true
	}

	if other.Legacy.Base != 0 {
		c.Legacy.Base = other.Legacy.Base
	}
	if other.Legacy.Spouse != 0 {
		c.Legacy.Spouse = other.Legacy.Spouse
	}
	if other.Legacy.Dependent != 0 {
		c.Legacy.Dependent = other.Legacy.Dependent
	}
	if other.Legacy.TaxRate != 0 {
		c.Legacy.TaxRate = other.Legacy.TaxRate
	}
	if other.Legacy.Currency != "" {
		c.Legacy.Currency = other.Legacy.Currency
	}
}
