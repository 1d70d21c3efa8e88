package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"datahub.migas.id/clearinghouse/internal/api/middleware"
	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/governance/license"
	"datahub.migas.id/clearinghouse/internal/governance/verification"
)

const testSigningKey = "chctl-test-signing-key-0123456789abcdef"

func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:     config.DriverSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "chctl.db"),
		},
		Log: config.LogConfig{Level: "error", Format: "json"},
		Security: config.SecurityConfig{
			JWTSigningKey: testSigningKey,
			JWTIssuer:     "migas-datahub",
			TokenLifetime: time.Hour,
		},
		Worker:  config.WorkerConfig{GeneralPoolSize: 2, VerifyPoolSize: 1},
		Upload:  config.UploadConfig{StaleAfter: 24 * time.Hour},
		License: config.LicenseConfig{BcryptCost: bcrypt.MinCost},
	}
	prev := loadConfig
	loadConfig = func() (*config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = prev })
	return cfg
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOperatorCommands_SQLite(t *testing.T) {
	useTestConfig(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated (sqlite)")

	out, err = execute(t, "issue-license", "--org", "PT Energi Nusantara", "--plan", "trial", "--limit", "api_calls=50")
	require.NoError(t, err)
	var issued license.Issued
	require.NoError(t, json.Unmarshal([]byte(out), &issued))
	assert.NotEmpty(t, issued.Key)
	assert.Equal(t, "trial", issued.License.Plan)
	assert.Equal(t, int64(50), issued.License.Limits["api_calls"])
	assert.Equal(t, "chctl", issued.License.IssuedBy)

	out, err = execute(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "stale uploads failed: 0")
	assert.Contains(t, out, "licenses expired: 0")

	out, err = execute(t, "verify")
	require.NoError(t, err)
	var results []verification.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results, 3)
	assert.False(t, verification.Broken(results))
}

func TestIssueLicense_RequiresOrg(t *testing.T) {
	useTestConfig(t)

	_, err := execute(t, "issue-license", "--plan", "trial")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "org")
}

func TestIssueLicense_BadExpiry(t *testing.T) {
	useTestConfig(t)

	_, err := execute(t, "issue-license", "--org", "x", "--expires-at", "next tuesday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid date")
}

func TestTokenCommand(t *testing.T) {
	useTestConfig(t)

	out, err := execute(t, "token", "--user", "ops-1", "--perm", middleware.PermPlatformAdmin)
	require.NoError(t, err)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	jwtCfg := middleware.JWTConfig{SigningKey: []byte(testSigningKey), Issuer: "migas-datahub"}
	claims, err := jwtCfg.ValidateToken(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", claims.UserID)
	assert.Equal(t, "ops-1", claims.Username)
	assert.Equal(t, []string{middleware.PermPlatformAdmin}, claims.Permissions)
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2027-01-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2027-01-31T10:00:00+07:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 31, 3, 0, 0, 0, time.UTC), got)

	_, err = parseDate("31/01/2027")
	assert.Error(t, err)
}
