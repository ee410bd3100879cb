package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"filing-engine/internal/pricing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, DriverMemory, c.Store.Driver)
	assert.Equal(t, 1500*time.Millisecond, c.Autosave.Delay)
	assert.InDelta(t, 149.99, c.Legacy.Base, 1e-9)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"bad year", func(c *Config) { c.Schemas.DefaultYear = 0 }, "defaultYear"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = DriverSQLite; c.Store.Path = "" }, "store.path"},
		{"cms without url", func(c *Config) { c.Store.Driver = DriverCMS }, "cmsUrl"},
		{"negative delay", func(c *Config) { c.Autosave.Delay = -time.Second }, "autosave.delay"},
		{"tax rate", func(c *Config) { c.Legacy.TaxRate = 1.5 }, "taxRate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	c := DefaultConfig()
	c.Store.Driver = DriverSQLite
	c.Autosave.Delay = 3 * time.Second
	require.NoError(t, c.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestMergeKeepsUnsetValues(t *testing.T) {
	c := DefaultConfig()
	c.Merge(&Config{
		Server: ServerConfig{Port: "9090"},
		Legacy: pricing.LegacyFees{Base: 79},
	})
	assert.Equal(t, "9090", c.Server.Port)
	assert.Equal(t, 10*time.Second, c.Server.ReadTimeout)
	assert.InDelta(t, 79, c.Legacy.Base, 1e-9)
	assert.InDelta(t, 99.99, c.Legacy.Spouse, 1e-9)

	c.Merge(nil)
	assert.Equal(t, "9090", c.Server.Port)
}

func TestLoaderLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
schemas:
  defaultYear: 2025
autosave:
  delay: 2s
log:
  level: debug
`), 0o644))

	env := map[string]string{"PORT": "7100", "DB_PATH": filepath.Join(dir, "f.db"), "STORE_DRIVER": DriverSQLite}
	l := NewLoader(zap.NewNop())
	l.getenv = func(k string) string { return env[k] }

	c, err := l.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7100", c.Server.Port)
	assert.Equal(t, 2025, c.Schemas.DefaultYear)
	assert.Equal(t, 2*time.Second, c.Autosave.Delay)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, DriverSQLite, c.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "f.db"), c.Store.Path)
}

func TestLoaderCMSURLSelectsDriver(t *testing.T) {
	l := NewLoader(nil)
	l.getenv = func(k string) string {
		if k == "CMS_URL" {
			return "http://cms.local"
		}
		return ""
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	c, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverCMS, c.Store.Driver)
	assert.Equal(t, "http://cms.local", c.Store.CMSURL)
}

func TestLoaderErrors(t *testing.T) {
	l := NewLoader(nil)
	l.getenv = func(string) string { return "" }

	_, err := l.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("store:\n  driver: mongo\n"), 0o644))
	_, err = l.Load(bad)
	assert.ErrorContains(t, err, "store.driver")
}
