package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tse-report-engine/internal/domain"
)

// LocalConfig is the configuration of a standalone run: a sqlite file in a
// data directory, the built-in formulas and an in-process lock. It is read
// from the environment only.
type LocalConfig struct {
	DataDir      string // holds the sqlite database
	RulesPath    string // xlsx or yaml default result table
	FormulasPath string // empty selects the built-in definitions
	GatewayURL   string // empty disables the collection system
	HTTPPort     int
	LogLevel     string
	LogFormat    string
	Country      string
	DcCode       string
}

// DefaultLocalConfig returns the local configuration defaults.
func DefaultLocalConfig() *LocalConfig {
	homeDir, _ := os.UserHomeDir()
	return &LocalConfig{
		DataDir:   filepath.Join(homeDir, ".tse-report"),
		HTTPPort:  8080,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadLocalConfig loads the local configuration from TSE_* environment
// variables, falling back to the defaults.
func LoadLocalConfig() *LocalConfig {
	cfg := DefaultLocalConfig()

	if v := os.Getenv("TSE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.RulesPath = os.Getenv("TSE_RULES_PATH")
	cfg.FormulasPath = os.Getenv("TSE_FORMULAS_PATH")
	cfg.GatewayURL = os.Getenv("TSE_GATEWAY_URL")
	if v := os.Getenv("TSE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}
	if v := os.Getenv("TSE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TSE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	cfg.Country = os.Getenv("TSE_COUNTRY")
	cfg.DcCode = os.Getenv("TSE_DC_CODE")

	return cfg
}

// DatabasePath returns the path of the sqlite database.
func (c *LocalConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "reports.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LocalConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ToConfig expands the local settings into a full configuration.
func (c *LocalConfig) ToConfig() *domain.Config {
	settings := map[string]string{}
	if c.Country != "" {
		settings[domain.SettingCountry] = c.Country
	}
	if c.DcCode != "" {
		settings[domain.SettingDcCode] = c.DcCode
	}

	return &domain.Config{
		Server: domain.ServerConfig{
			Host:         "127.0.0.1",
			Port:         c.HTTPPort,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: domain.DatabaseConfig{
			Driver: "sqlite",
			Path:   c.DatabasePath(),
		},
		Rules:    domain.RulesConfig{Path: c.RulesPath, CacheSize: 256},
		Formulas: domain.FormulaConfig{Path: c.FormulasPath},
		Gateway: domain.GatewayConfig{
			BaseURL:    c.GatewayURL,
			Timeout:    30 * time.Second,
			RateLimit:  5,
			RetryCount: 3,
		},
		Lock:    domain.LockConfig{TTL: 5 * time.Minute},
		Logging: domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"},
		Globals: domain.GlobalsConfig{Settings: settings},
	}
}
