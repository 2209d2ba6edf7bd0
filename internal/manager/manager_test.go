package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/memsearch/internal/config"
	"github.com/Aman-CERP/memsearch/internal/sync"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	ws := t.TempDir()
	storeDir := filepath.Join(t.TempDir(), "store")

	cfg := config.Default()
	cfg.Workspace = ws
	cfg.MemorySearch.Store.Path = storeDir
	cfg.MemorySearch.Provider = config.ProviderOpenAI
	cfg.MemorySearch.Model = "text-embedding-3-small"
	cfg.Models.Providers = map[string]config.ProviderOverride{
		"openai": {BaseURL: "http://127.0.0.1:0/v1", APIKey: "unused-in-these-tests"},
	}
	cfg.MemorySearch.Store.Vector.Enabled = false // no live embedding endpoint in this test

	m, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, ws
}

func writeFile(t *testing.T, ws, rel, content string) {
	t.Helper()
	path := filepath.Join(ws, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestManagerSyncAndStatus(t *testing.T) {
	m, ws := newTestManager(t)
	writeFile(t, ws, "memory/2026-01-12.md", "Alpha memory line.\nZebra memory line.\n")
	writeFile(t, ws, "MEMORY.md", "Beta knowledge base entry.\n")

	_, err := m.Sync(context.Background(), sync.Options{Force: true, Reason: "test"})
	require.NoError(t, err)

	status, err := m.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, status.Files)
	assert.Greater(t, status.Chunks, 0)
}

func TestManagerReadFileGoesThroughPathGate(t *testing.T) {
	m, ws := newTestManager(t)
	writeFile(t, ws, "note.md", "hello from the sandbox")

	data, err := m.ReadFile("note.md")
	require.NoError(t, err)
	assert.Equal(t, "hello from the sandbox", string(data))

	_, err = m.ReadFile("../outside.md")
	require.Error(t, err)
}

func TestManagerSearchDegradesWithoutVectorProvider(t *testing.T) {
	m, ws := newTestManager(t)
	writeFile(t, ws, "memory/notes.md", "Alpha memory line.\nZebra memory line.\n")

	_, err := m.Sync(context.Background(), sync.Options{Force: true})
	require.NoError(t, err)

	results, err := m.Search(context.Background(), "zebra")
	require.NoError(t, err)
	if results != nil {
		for _, r := range results {
			assert.NotEmpty(t, r.Path)
		}
	}
}

func TestManagerConcurrentSyncsCoalesce(t *testing.T) {
	m, ws := newTestManager(t)
	writeFile(t, ws, "a.md", "content a")

	errsCh := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := m.Sync(context.Background(), sync.Options{})
			errsCh <- err
		}()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errsCh)
	}
}

// TestManagerForceSyncNeverReusesNonForceResult exercises §5's stated
// ordering: a force call racing a non-force in-flight sync must wait for it,
// then perform its own new forced run — never silently return the
// non-force run's result.
func TestManagerForceSyncNeverReusesNonForceResult(t *testing.T) {
	m, ws := newTestManager(t)
	writeFile(t, ws, "a.md", "content a")

	type outcome struct {
		res sync.Result
		err error
	}
	normalCh := make(chan outcome, 1)
	forcedCh := make(chan outcome, 1)

	go func() {
		res, err := m.Sync(context.Background(), sync.Options{Reason: "normal"})
		normalCh <- outcome{res, err}
	}()
	go func() {
		res, err := m.Sync(context.Background(), sync.Options{Force: true, Reason: "forced"})
		forcedCh <- outcome{res, err}
	}()

	normal := <-normalCh
	forced := <-forcedCh

	require.NoError(t, normal.err)
	require.NoError(t, forced.err)
	assert.False(t, normal.res.Forced)
	assert.True(t, forced.res.Forced, "the force caller must report its own forced run, not a coalesced non-force result")
}
