// Package config provides configuration management for the clearing house service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	River    RiverConfig    `mapstructure:"river"`
	Security SecurityConfig `mapstructure:"security"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Upload   UploadConfig   `mapstructure:"upload"`
	License  LicenseConfig  `mapstructure:"license"`
	Events   EventsConfig   `mapstructure:"events"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	AllowCredentials bool          `mapstructure:"allow_credentials"`
	// UnsafeAllowAllOrigins honours "*" in AllowedOrigins and disables credentials.
	UnsafeAllowAllOrigins bool `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains connection settings for PostgreSQL (production)
// or SQLite (embedded single-node deployments and local development).
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`

	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	// SQLitePath is the database file used when Driver is "sqlite".
	SQLitePath string `mapstructure:"sqlite_path"`

	// Pool configuration (PostgreSQL only, shared by the store and River).
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
	SweepInterval               time.Duration `mapstructure:"sweep_interval"`
	VerifyInterval              time.Duration `mapstructure:"verify_interval"`
}

// SecurityConfig contains bearer-token verification settings.
// Tokens are issued by the portal's identity service; this service only
// verifies them to attribute audit records to an actor.
type SecurityConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	// JWTVerificationKeys are previous signing keys still accepted after a rotation.
	JWTVerificationKeys []string      `mapstructure:"jwt_verification_keys"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	TokenLifetime       time.Duration `mapstructure:"token_lifetime"`
}

// VerificationKeys returns the non-empty rotation keys.
func (c SecurityConfig) VerificationKeys() [][]byte {
	keys := make([][]byte, 0, len(c.JWTVerificationKeys))
	for _, k := range c.JWTVerificationKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return keys
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	VerifyPoolSize  int `mapstructure:"verify_pool_size"`
}

// UploadConfig contains resource upload lifecycle settings.
type UploadConfig struct {
	// StaleAfter is how long an upload may stay INITIATED before the sweep fails it.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// LicenseConfig contains license issuing settings.
type LicenseConfig struct {
	// PlansFile overrides the built-in plan catalog (YAML).
	PlansFile  string `mapstructure:"plans_file"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

// EventsConfig controls lifecycle event publishing to NATS JetStream.
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	NATSURL        string        `mapstructure:"nats_url"`
	Stream         string        `mapstructure:"stream"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Environment variables use standard names without prefix: nested keys map
// with "." replaced by "_" (database.max_conns -> DATABASE_MAX_CONNS).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/clearinghouse")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
	case DriverSQLite:
		if strings.TrimSpace(c.Database.SQLitePath) == "" {
			return fmt.Errorf("database.sqlite_path must not be empty for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	if c.License.BcryptCost < bcrypt.MinCost || c.License.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("license.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Upload.StaleAfter <= 0 {
		return fmt.Errorf("upload.stale_after must be positive")
	}
	if c.Events.Enabled && strings.TrimSpace(c.Events.NATSURL) == "" {
		return fmt.Errorf("events.nats_url is required when events are enabled")
	}
	return nil
}

// ensureSecrets auto-generates a signing key on first boot when none is set.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = secret
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY to share it with the identity service",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "clearinghouse")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "clearinghouse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlite_path", "clearinghouse.db")
	v.SetDefault("database.max_conns", 30)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 5)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.sweep_interval", "1h")
	v.SetDefault("river.verify_interval", "24h")

	// Security
	v.SetDefault("security.jwt_signing_key", "")
	v.SetDefault("security.jwt_verification_keys", []string{})
	v.SetDefault("security.jwt_issuer", "migas-datahub")
	v.SetDefault("security.token_lifetime", "1h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 64)
	v.SetDefault("worker.verify_pool_size", 4)

	// Upload lifecycle
	v.SetDefault("upload.stale_after", "24h")

	// License
	v.SetDefault("license.plans_file", "")
	v.SetDefault("license.bcrypt_cost", bcrypt.DefaultCost)

	// Events
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("events.stream", "CLEARINGHOUSE")
	v.SetDefault("events.subject_prefix", "clearinghouse")
	v.SetDefault("events.publish_timeout", "5s")
}
