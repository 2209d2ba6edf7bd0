package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/Aman-CERP/memsearch/internal/pathgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collect(t *testing.T, ch <-chan Record) []Record {
	t.Helper()
	var out []Record
	for r := range ch {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

func TestScanClassifiesSources(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "memory", "2026-01-12.md"), "# Log\nAlpha memory line.\n")
	writeFile(t, filepath.Join(ws, "MEMORY.md"), "Beta knowledge base entry.\n")
	writeFile(t, filepath.Join(ws, "README.md"), "workspace doc\n")

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch, err := sc.Scan(context.Background(), Options{})
	require.NoError(t, err)
	records := collect(t, ch)
	require.Len(t, records, 3)

	bySource := map[string]Source{}
	for _, r := range records {
		bySource[r.RelPath] = r.Source
	}
	assert.Equal(t, SourceMemory, bySource["memory/2026-01-12.md"])
	assert.Equal(t, SourceMemory, bySource["MEMORY.md"])
	assert.Equal(t, SourceWorkspace, bySource["README.md"])
}

func TestScanRespectsExtraRootClassification(t *testing.T) {
	ws := t.TempDir()
	extra := t.TempDir()
	writeFile(t, filepath.Join(extra, "notes.md"), "extra note\n")

	gate, err := pathgate.New(ws, []string{extra}, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch, err := sc.Scan(context.Background(), Options{})
	require.NoError(t, err)
	records := collect(t, ch)
	require.Len(t, records, 1)
	assert.Equal(t, SourceExtra, records[0].Source)
}

func TestScanSkipsHiddenDirsByDefault(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, ".git", "config"), "junk\n")
	writeFile(t, filepath.Join(ws, "visible.md"), "hi\n")

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch, err := sc.Scan(context.Background(), Options{})
	require.NoError(t, err)
	records := collect(t, ch)
	require.Len(t, records, 1)
	assert.Equal(t, "visible.md", records[0].RelPath)
}

func TestScanSkipsOversizedFiles(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "big.md"), "0123456789")
	writeFile(t, filepath.Join(ws, "small.md"), "hi")

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch, err := sc.Scan(context.Background(), Options{MaxFileBytes: 5})
	require.NoError(t, err)
	records := collect(t, ch)
	require.Len(t, records, 1)
	assert.Equal(t, "small.md", records[0].RelPath)
}

func TestScanReusesKnownSHA256WhenUnchanged(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "stable.md")
	writeFile(t, path, "unchanged content")
	info, err := os.Stat(path)
	require.NoError(t, err)

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	known := Known{MTimeNs: info.ModTime().UnixNano(), Size: info.Size(), SHA256: "cached-hash-sentinel"}
	ch, err := sc.Scan(context.Background(), Options{Known: func(rel string) (Known, bool) {
		if rel == "stable.md" {
			return known, true
		}
		return Known{}, false
	}})
	require.NoError(t, err)
	records := collect(t, ch)
	require.Len(t, records, 1)
	assert.Equal(t, "cached-hash-sentinel", records[0].SHA256)
}

func TestScanRecomputesHashWhenSizeChanges(t *testing.T) {
	ws := t.TempDir()
	path := filepath.Join(ws, "changed.md")
	writeFile(t, path, "new content, different size than before")

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch, err := sc.Scan(context.Background(), Options{Known: func(rel string) (Known, bool) {
		return Known{MTimeNs: 1, Size: 999999, SHA256: "stale"}, true
	}})
	require.NoError(t, err)
	records := collect(t, ch)
	require.Len(t, records, 1)
	assert.NotEqual(t, "stale", records[0].SHA256)
}

func TestScanExcludeGlob(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "keep.md"), "keep")
	writeFile(t, filepath.Join(ws, "skip.tmp"), "skip")

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch, err := sc.Scan(context.Background(), Options{ExcludeGlobs: []string{"*.tmp"}})
	require.NoError(t, err)
	records := collect(t, ch)
	require.Len(t, records, 1)
	assert.Equal(t, "keep.md", records[0].RelPath)
}

func TestScanIsRestartable(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "a.md"), "a")

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch1, err := sc.Scan(context.Background(), Options{})
	require.NoError(t, err)
	first := collect(t, ch1)

	ch2, err := sc.Scan(context.Background(), Options{})
	require.NoError(t, err)
	second := collect(t, ch2)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].SHA256, second[0].SHA256)
}

func TestScanHonorsGitignore(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, ".gitignore"), "ignored.md\n")
	writeFile(t, filepath.Join(ws, "ignored.md"), "skip me")
	writeFile(t, filepath.Join(ws, "kept.md"), "keep me")

	gate, err := pathgate.New(ws, nil, 0)
	require.NoError(t, err)
	sc, err := New(gate)
	require.NoError(t, err)

	ch, err := sc.Scan(context.Background(), Options{})
	require.NoError(t, err)
	records := collect(t, ch)
	var paths []string
	for _, r := range records {
		paths = append(paths, r.RelPath)
	}
	assert.Contains(t, paths, "kept.md")
	assert.NotContains(t, paths, "ignored.md")
}
