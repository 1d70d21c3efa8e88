package license

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datahub.migas.id/clearinghouse/internal/domain"
)

func TestLoadCatalog_Builtin(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	names := []string{}
	for _, p := range c.Plans() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"enterprise", "standard", "trial"}, names)

	trial, err := c.Plan("trial")
	require.NoError(t, err)
	assert.Equal(t, 1, trial.MaxActivations)
	assert.Equal(t, int64(1000), trial.Limits["api_calls"])

	_, err = c.Plan("platinum")
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestLoadCatalog_OverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  trial:
    product: datahub-portal
    max_activations: 2
    validity_days: 14
    limits:
      api_calls: 50
  research:
    product: datahub-research
    max_activations: 3
    validity_days: 90
    limits:
      dataset_downloads: 25
`), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	trial, err := c.Plan("trial")
	require.NoError(t, err)
	assert.Equal(t, 2, trial.MaxActivations)
	assert.Equal(t, map[string]int64{"api_calls": 50}, trial.Limits)

	research, err := c.Plan("research")
	require.NoError(t, err)
	assert.Equal(t, "datahub-research", research.Product)

	_, err = c.Plan("standard")
	assert.NoError(t, err, "built-in plans stay available")
}

func TestLoadCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not yaml", "plans: [\n"},
		{"no seats", "plans:\n  x:\n    max_activations: 0\n    validity_days: 1\n"},
		{"no validity", "plans:\n  x:\n    max_activations: 1\n    validity_days: 0\n"},
		{"negative limit", "plans:\n  x:\n    max_activations: 1\n    validity_days: 1\n    limits:\n      api_calls: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plans.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadCatalog(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMergeLimits(t *testing.T) {
	plan := map[string]int64{"api_calls": 10, "storage_gb": 1}
	got := mergeLimits(plan, map[string]int64{"storage_gb": 5, "exports": 2})
	assert.Equal(t, map[string]int64{"api_calls": 10, "storage_gb": 5, "exports": 2}, got)
	assert.Equal(t, int64(1), plan["storage_gb"], "plan limits are not mutated")
}
