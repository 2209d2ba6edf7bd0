package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultThenValidateRequiresWorkspace(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace")
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	store := filepath.Join(dir, "store")
	yamlBody := "workspace: " + dir + "\n" +
		"memorySearch:\n" +
		"  provider: openai\n" +
		"  store:\n" +
		"    path: " + store + "\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.MemorySearch.Provider)
	assert.Equal(t, 20, cfg.MemorySearch.Query.MaxResults) // default preserved
	assert.True(t, cfg.MemorySearch.Store.Vector.Enabled)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, cfg.MemorySearch.Provider)
}

func TestValidateRejectsRelativeWorkspace(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "relative/path"
	cfg.MemorySearch.Store.Path = "/abs/store"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsBadProvider(t *testing.T) {
	cfg := Default()
	cfg.Workspace = "/abs"
	cfg.MemorySearch.Store.Path = "/abs/store"
	cfg.MemorySearch.Provider = "bogus"
	err := cfg.Validate()
	require.Error(t, err)
}

func TestModelIDDefaultsPerProvider(t *testing.T) {
	cfg := Default()
	cfg.MemorySearch.Provider = ProviderOpenAI
	assert.Equal(t, "text-embedding-3-small", cfg.ModelID())
	cfg.MemorySearch.Provider = ProviderOllama
	assert.Equal(t, "nomic-embed-text", cfg.ModelID())
	cfg.MemorySearch.Model = "custom-model"
	assert.Equal(t, "custom-model", cfg.ModelID())
}
