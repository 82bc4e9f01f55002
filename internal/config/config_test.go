package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tse-report-engine/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
	return dir
}

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "tse-report.db", m.GetDatabaseConnectionString())
	assert.Equal(t, 256, cfg.Rules.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())
	assert.NoError(t, m.Validate())
}

func TestNewManager_File(t *testing.T) {
	dir := writeConfig(t, `
environment: production
server:
  port: 9090
database:
  driver: postgres
  host: db.internal
  database: tse
  username: tse
rules:
  path: /data/rules.xlsx
  sheet: Defaults
gateway:
  base_url: https://dcf.example.org/api
  timeout: 10s
globals:
  settings:
    country: FR
    sampArea: FR1
  preferences:
    prefScreeningBSE: F015A
`)
	m, err := NewManager(dir)
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 9090, m.GetServerConfig().Port)
	assert.Equal(t, "postgres", m.GetDatabaseConfig().Driver)
	assert.Contains(t, m.GetDatabaseConnectionString(), "host=db.internal")
	assert.Equal(t, "Defaults", cfg.Rules.Sheet)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.True(t, m.IsProduction())
	require.NoError(t, m.Validate())

	globals := cfg.Globals.ToGlobals()
	assert.Equal(t, "FR1", globals.Settings[domain.SettingSampArea].Value(), "keys get their canonical spelling back")
	assert.Equal(t, "F015A", globals.Preference(domain.PrefScreeningBSE))
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TSE_REPORT_SERVER_PORT", "7070")
	t.Setenv("TSE_REPORT_DATABASE_DRIVER", "memory")
	t.Setenv("TSE_REPORT_LOGGING_LEVEL", "debug")

	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7070, m.GetServerConfig().Port)
	assert.Equal(t, "memory", m.GetDatabaseConfig().Driver)
	assert.Equal(t, "debug", m.GetConfig().Logging.Level)

	t.Setenv("TSE_REPORT_SERVER_PORT", "7071")
	require.NoError(t, m.Reload())
	assert.Equal(t, 7071, m.GetServerConfig().Port)
}

func TestNewManager_BrokenFile(t *testing.T) {
	dir := writeConfig(t, "server: [port")
	_, err := NewManager(dir)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *domain.Config {
		return &domain.Config{
			Server:   domain.ServerConfig{Port: 8080},
			Database: domain.DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Logging:  domain.LoggingConfig{Level: "info"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*domain.Config)
		errMsg string
	}{
		{"valid", func(*domain.Config) {}, ""},
		{"bad port", func(c *domain.Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"tls without files", func(c *domain.Config) { c.Server.TLSEnabled = true }, "TLS requires"},
		{"sqlite without path", func(c *domain.Config) { c.Database.Path = "" }, "database path"},
		{"postgres without host", func(c *domain.Config) { c.Database.Driver = "postgres" }, "database host"},
		{"unknown driver", func(c *domain.Config) { c.Database.Driver = "mysql" }, "unknown database driver"},
		{"memory", func(c *domain.Config) { c.Database = domain.DatabaseConfig{Driver: "memory"} }, ""},
		{"bad log level", func(c *domain.Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"negative cache", func(c *domain.Config) { c.Rules.CacheSize = -1 }, "cache size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
