package domain

import (
	"strings"
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Rules    RulesConfig    `mapstructure:"rules"`
	Formulas FormulaConfig  `mapstructure:"formulas"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Lock     LockConfig     `mapstructure:"lock"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Globals  GlobalsConfig  `mapstructure:"globals"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	CertFile     string        `mapstructure:"cert_file"`
	KeyFile      string        `mapstructure:"key_file"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// DatabaseConfig represents database connection configuration.
// Driver is "sqlite" or "postgres"; Path is only used by sqlite.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RulesConfig locates the default-result reference table
type RulesConfig struct {
	Path      string `mapstructure:"path"`
	Sheet     string `mapstructure:"sheet"`
	CacheSize int    `mapstructure:"cache_size"`
}

// FormulaConfig locates the column schema and formula definitions.
// An empty path selects the built-in definitions.
type FormulaConfig struct {
	Path string `mapstructure:"path"`
}

// GatewayConfig represents the collection system endpoint configuration
type GatewayConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RetryCount int           `mapstructure:"retry_count"`
}

// LockConfig selects the per-report mutation lock. An empty RedisURL
// selects the in-process lock.
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
	Retry    time.Duration `mapstructure:"retry"`
	Wait     time.Duration `mapstructure:"wait"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GlobalsConfig carries the user settings and test preferences injected as
// parents of every record.
type GlobalsConfig struct {
	Settings    map[string]string `mapstructure:"settings"`
	Preferences map[string]string `mapstructure:"preferences"`
}

// ToGlobals converts the configured values to cells. Configuration keys
// are case insensitive; known columns get their canonical spelling back.
func (g GlobalsConfig) ToGlobals() *Globals {
	canonical := make(map[string]string, len(globalColumns))
	for _, col := range globalColumns {
		canonical[strings.ToLower(col)] = col
	}
	key := func(k string) string {
		if col, ok := canonical[strings.ToLower(k)]; ok {
			return col
		}
		return k
	}

	out := &Globals{Settings: Cells{}, Preferences: Cells{}}
	for k, v := range g.Settings {
		out.Settings[key(k)] = Text(v)
	}
	for k, v := range g.Preferences {
		out.Preferences[key(k)] = Text(v)
	}
	return out
}
