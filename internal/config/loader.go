package config

import (
	"os"
	"strconv"

	"go.uber.org/zap"
)

// ConfigFile is looked up in the working directory when no path is given.
const ConfigFile = "filing-engine.yaml"

// Loader layers the configuration sources.
type Loader struct {
	logger *zap.Logger
	getenv func(string) string
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger, getenv: os.Getenv}
}

// Load builds the configuration with this precedence, lowest first:
//  1. defaults
//  2. the YAML file at path, or ./filing-engine.yaml when path is empty
//  3. environment: PORT, SCHEMA_DIR, STORE_DRIVER, DB_PATH, CMS_URL, LOG_LEVEL
//
// An explicitly named file that cannot be read is an error; a missing
// default file is not.
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = ConfigFile
	}
	fileConfig, err := LoadFromFile(path)
	switch {
	case err == nil:
		l.logger.Debug("loaded config file", zap.String("path", path))
		config.Merge(fileConfig)
	case explicit || !os.IsNotExist(unwrapAll(err)):
		return nil, err
	default:
		l.logger.Debug("no config file found", zap.String("path", path))
	}

	l.applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (l *Loader) applyEnv(c *Config) {
	set := func(name string, dst *string) {
		if v := l.getenv(name); v != "" {
			*dst = v
			l.logger.Debug("config overridden from environment", zap.String("var", name))
		}
	}
	set("PORT", &c.Server.Port)
	set("SCHEMA_DIR", &c.Schemas.Dir)
	set("STORE_DRIVER", &c.Store.Driver)
	set("DB_PATH", &c.Store.Path)
	set("CMS_URL", &c.Store.CMSURL)
	set("LOG_LEVEL", &c.Log.Level)

	if v := l.getenv("SCHEMA_DEFAULT_YEAR"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			c.Schemas.DefaultYear = year
		} else {
			l.logger.Warn("ignoring SCHEMA_DEFAULT_YEAR", zap.String("value", v), zap.Error(err))
		}
	}

	// A CMS URL without an explicit driver means the CMS is the backend.
	if l.getenv("CMS_URL") != "" && l.getenv("STORE_DRIVER") == "" {
		c.Store.Driver = DriverCMS
	}
}

func unwrapAll(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
