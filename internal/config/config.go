package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/tse-report-engine/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. TSE_REPORT_SERVER_PORT.
const EnvPrefix = "TSE_REPORT"

// defaultPaths are searched for config.yaml when no path is given.
var defaultPaths = []string{".", "./config", "/etc/tse-report/"}

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	paths  []string
	config *domain.Config
}

// NewManager creates a new configuration manager. config.yaml is looked up
// in paths, or in the default locations when none is given.
func NewManager(paths ...string) (*Manager, error) {
	if len(paths) == 0 {
		paths = defaultPaths
	}
	m := &Manager{paths: paths}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from the file, the environment and the defaults
func (m *Manager) loadConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range m.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// the file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "tse-report.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "tse_report")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("rules.path", "")
	v.SetDefault("rules.sheet", "")
	v.SetDefault("rules.cache_size", 256)

	v.SetDefault("formulas.path", "")

	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.timeout", "30s")
	v.SetDefault("gateway.rate_limit", 5)
	v.SetDefault("gateway.retry_count", 3)

	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.ttl", "5m")
	v.SetDefault("lock.retry", "100ms")
	v.SetDefault("lock.wait", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration regardless of where it was loaded from.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS requires cert_file and key_file")
	}

	switch config.Database.Driver {
	case "sqlite":
		if config.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database driver: %q", config.Database.Driver)
	}

	if config.Rules.CacheSize < 0 {
		return fmt.Errorf("invalid rules cache size: %d", config.Rules.CacheSize)
	}
	if config.Gateway.RateLimit < 0 {
		return fmt.Errorf("invalid gateway rate limit: %d", config.Gateway.RateLimit)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	if db.Driver == "sqlite" {
		return db.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.v.GetString("environment")) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.v.GetString("environment"))
	return env == "development" || env == "dev" || env == ""
}

// Static serves an already built configuration, e.g. a local one.
type Static struct {
	Config *domain.Config
}

func (s *Static) GetConfig() *domain.Config                 { return s.Config }
func (s *Static) GetDatabaseConfig() *domain.DatabaseConfig { return &s.Config.Database }
func (s *Static) GetServerConfig() *domain.ServerConfig     { return &s.Config.Server }
func (s *Static) Reload() error                             { return nil }
func (s *Static) Validate() error                           { return Validate(s.Config) }
func (s *Static) GetDatabaseConnectionString() string       { return s.Config.Database.Path }
func (s *Static) IsProduction() bool                        { return false }
func (s *Static) IsDevelopment() bool                       { return true }

var (
	_ domain.ConfigManager = (*Manager)(nil)
	_ domain.ConfigManager = (*Static)(nil)
)
