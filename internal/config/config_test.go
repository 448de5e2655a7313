package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex/omnidex/internal/errors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Positive(t, cfg.MemoryBudgetMB)
	assert.Positive(t, cfg.Workers)
	assert.True(t, cfg.Features.Analytics)
}

func TestLoad_MissingFileReturnsNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetCode(err))
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().MemoryBudgetMB, cfg.MemoryBudgetMB)
}

func TestLoad_ParsesProvidersAndOverrides(t *testing.T) {
	// Given: a config file with two providers
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
index_dir: /tmp/idx
memory_budget_mb: 128
response_target_ms: 200
workers: 4
providers:
  - id: files-home
    provider_type: filesystem
    enabled: true
    weight: 1.0
    settings:
      root: /home/user/docs
  - id: gh-main
    provider_type: github
    enabled: true
    weight: 0.8
    settings:
      owner: omnidex
      repo: omnidex
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	// When: loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// Then: values and provider order are preserved
	assert.Equal(t, "/tmp/idx", cfg.IndexDir)
	assert.Equal(t, 128, cfg.MemoryBudgetMB)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "files-home", cfg.Providers[0].ID)
	assert.Equal(t, "github", cfg.Providers[1].ProviderType)
	assert.Equal(t, "/home/user/docs", cfg.Providers[0].Settings["root"])
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestValidate_RejectsDuplicateProviderIDs(t *testing.T) {
	cfg := Default()
	cfg.Providers = []ProviderConfig{
		{ID: "a", ProviderType: "filesystem"},
		{ID: "a", ProviderType: "github"},
	}
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveBudget(t *testing.T) {
	cfg := Default()
	cfg.MemoryBudgetMB = 0
	require.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OMNIDEX_INDEX_DIR", "/env/idx")
	t.Setenv("OMNIDEX_WORKERS", "7")
	t.Setenv("OMNIDEX_REALTIME", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/idx", cfg.IndexDir)
	assert.Equal(t, 7, cfg.Workers)
	assert.True(t, cfg.Features.Realtime)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.yaml")
	cfg := Default()
	cfg.IndexDir = "/tmp/roundtrip"
	cfg.Providers = []ProviderConfig{{ID: "p1", ProviderType: "filesystem", Enabled: true}}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/roundtrip", loaded.IndexDir)
	require.Len(t, loaded.Providers, 1)
	assert.Equal(t, "p1", loaded.Providers[0].ID)
}
