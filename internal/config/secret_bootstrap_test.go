package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: DriverPostgres},
		Security: SecurityConfig{JWTSigningKey: strings.Repeat("k", 32)},
		Upload:   UploadConfig{StaleAfter: time.Hour},
		License:  LicenseConfig{BcryptCost: 10},
	}
}

func TestEnsureSecrets_GeneratesMissingSigningKey(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	if err := cfg.ensureSecrets(); err != nil {
		t.Fatalf("ensureSecrets() error = %v", err)
	}

	// 32 random bytes hex-encoded -> 64 chars.
	if len(cfg.Security.JWTSigningKey) != 64 {
		t.Fatalf("signing key length = %d, want 64", len(cfg.Security.JWTSigningKey))
	}
}

func TestEnsureSecrets_PreservesProvidedValues(t *testing.T) {
	t.Parallel()

	const provided = "abcdefghijklmnopqrstuvwxyzABCDEF123456"
	cfg := &Config{Security: SecurityConfig{JWTSigningKey: provided}}

	if err := cfg.ensureSecrets(); err != nil {
		t.Fatalf("ensureSecrets() error = %v", err)
	}
	if got := cfg.Security.JWTSigningKey; got != provided {
		t.Fatalf("signing key changed unexpectedly: %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"short signing key", func(c *Config) { c.Security.JWTSigningKey = "short-secret" }, true},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"sqlite without path", func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.SQLitePath = " "
		}, true},
		{"sqlite with path", func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.SQLitePath = "ch.db"
		}, false},
		{"bcrypt cost too low", func(c *Config) { c.License.BcryptCost = 1 }, true},
		{"non-positive stale window", func(c *Config) { c.Upload.StaleAfter = 0 }, true},
		{"events without url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.NATSURL = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
