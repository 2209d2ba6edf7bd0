package storedb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/memsearch/internal/chunk"
)

func openTestStore(t *testing.T, fingerprint string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(path, fingerprint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesSchemaAndRecordsFingerprint(t *testing.T) {
	s := openTestStore(t, "openai/text-embedding-3-small")
	stored, ok, err := s.getMeta(metaKeyFingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "openai/text-embedding-3-small", stored)
}

func TestOpenMigrateDropsVectorsOnFingerprintChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	s1, err := Open(path, "openai/a")
	require.NoError(t, err)
	require.NoError(t, s1.UpsertFile(FileRecord{ID: "f1", Path: "a.md", Source: "workspace", ModTime: time.Now(), IndexedAt: time.Now()}))
	ids, err := s1.PutChunks("f1", []chunk.Chunk{{Index: 0, Text: "hello world", SHA256: "sha1"}})
	require.NoError(t, err)
	require.NoError(t, s1.PutVectors(map[int64][]float32{ids[0]: {1, 0, 0}}))
	require.NoError(t, s1.Close())

	s2, err := Open(path, "openai/b")
	require.NoError(t, err)
	defer s2.Close()

	hits, err := s2.VectorSearch([]float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits, "fingerprint change must drop vectors")
}

func TestUpsertAndDeleteFileCascades(t *testing.T) {
	s := openTestStore(t, "fp")

	require.NoError(t, s.UpsertFile(FileRecord{ID: "f1", Path: "note.md", Source: "memory", ModTime: time.Now(), IndexedAt: time.Now()}))
	ids, err := s.PutChunks("f1", []chunk.Chunk{{Index: 0, Text: "alpha beta", SHA256: "s1"}})
	require.NoError(t, err)
	require.NoError(t, s.PutVectors(map[int64][]float32{ids[0]: {0.1, 0.2}}))

	got, err := s.GetFileByPath("note.md")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, s.DeleteFile("note.md"))

	got, err = s.GetFileByPath("note.md")
	require.NoError(t, err)
	assert.Nil(t, got)

	hits, err := s.VectorSearch([]float32{0.1, 0.2}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorSearchReturnsClosestByCosine(t *testing.T) {
	s := openTestStore(t, "fp")
	require.NoError(t, s.UpsertFile(FileRecord{ID: "f1", Path: "a.txt", Source: "workspace"}))
	ids, err := s.PutChunks("f1", []chunk.Chunk{
		{Index: 0, Text: "one", SHA256: "s1"},
		{Index: 1, Text: "two", SHA256: "s2"},
	})
	require.NoError(t, err)
	require.NoError(t, s.PutVectors(map[int64][]float32{
		ids[0]: {1, 0},
		ids[1]: {0, 1},
	}))

	hits, err := s.VectorSearch([]float32{1, 0}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, ids[0], hits[0].ChunkID)
	assert.InDelta(t, 1.0, hits[0].Score, 0.01)
}

func TestVectorSearchDimMismatchErrors(t *testing.T) {
	s := openTestStore(t, "fp")
	require.NoError(t, s.UpsertFile(FileRecord{ID: "f1", Path: "a.txt", Source: "workspace"}))
	ids, err := s.PutChunks("f1", []chunk.Chunk{{Index: 0, Text: "one", SHA256: "s1"}})
	require.NoError(t, err)
	require.NoError(t, s.PutVectors(map[int64][]float32{ids[0]: {1, 0, 0}}))

	_, err = s.VectorSearch([]float32{1, 0}, 2)
	require.Error(t, err)
}

func TestTextSearchRanksByBM25(t *testing.T) {
	s := openTestStore(t, "fp")
	if !s.FTSAvailable() {
		t.Skip("FTS5 unavailable in this build")
	}
	require.NoError(t, s.UpsertFile(FileRecord{ID: "f1", Path: "a.txt", Source: "workspace"}))
	_, err := s.PutChunks("f1", []chunk.Chunk{
		{Index: 0, Text: "the quick brown fox", SHA256: "s1"},
		{Index: 1, Text: "completely unrelated content", SHA256: "s2"},
	})
	require.NoError(t, err)

	hits, err := s.TextSearch("quick fox", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestLoadChunkContextHydratesResult(t *testing.T) {
	s := openTestStore(t, "fp")
	require.NoError(t, s.UpsertFile(FileRecord{ID: "f1", Path: "notes/a.md", Source: "memory"}))
	ids, err := s.PutChunks("f1", []chunk.Chunk{{Index: 0, ByteOffset: 10, Text: "hello", SHA256: "s1"}})
	require.NoError(t, err)

	cc, err := s.LoadChunkContext(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "notes/a.md", cc.FilePath)
	assert.Equal(t, "memory", cc.Source)
	assert.Equal(t, 10, cc.ByteOffset)
	assert.Equal(t, "hello", cc.Text)
}

func TestReplaceAllSwapsAtomically(t *testing.T) {
	s := openTestStore(t, "fp")
	require.NoError(t, s.UpsertFile(FileRecord{ID: "old", Path: "old.txt", Source: "workspace"}))
	_, err := s.PutChunks("old", []chunk.Chunk{{Index: 0, Text: "old content", SHA256: "oldsha"}})
	require.NoError(t, err)

	plan := ReindexPlan{
		Files: []FileRecord{{ID: "new", Path: "new.txt", Source: "workspace", ModTime: time.Now(), IndexedAt: time.Now()}},
		ChunksByFileID: map[string][]chunk.Chunk{
			"new": {{Index: 0, Text: "new content", SHA256: "newsha"}},
		},
		VectorsBySHA256: map[string][]float32{"newsha": {0.5, 0.5}},
	}
	require.NoError(t, s.ReplaceAll(plan))

	got, err := s.GetFileByPath("old.txt")
	require.NoError(t, err)
	assert.Nil(t, got, "staged replaceAll must drop prior rows")

	got, err = s.GetFileByPath("new.txt")
	require.NoError(t, err)
	require.NotNil(t, got)

	hits, err := s.VectorSearch([]float32{0.5, 0.5}, 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestGetStatusAggregatesSourceCounts(t *testing.T) {
	s := openTestStore(t, "fp")
	require.NoError(t, s.UpsertFile(FileRecord{ID: "f1", Path: "a.txt", Source: "workspace"}))
	require.NoError(t, s.UpsertFile(FileRecord{ID: "f2", Path: "b.txt", Source: "memory"}))
	_, err := s.PutChunks("f1", []chunk.Chunk{{Index: 0, Text: "x", SHA256: "s1"}})
	require.NoError(t, err)

	st, err := s.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 1, st.Chunks)
	assert.Len(t, st.SourceCounts, 2)
}

func TestSetLastSyncedAtRoundTrips(t *testing.T) {
	s := openTestStore(t, "fp")
	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.SetLastSyncedAt(now))

	st, err := s.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, now.Unix(), st.LastSyncedAt.Unix())
}

func TestLockUnlockIsExclusiveAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	s1, err := Open(path, "fp")
	require.NoError(t, err)
	defer s1.Close()
	require.NoError(t, s1.Lock())

	s2, err := Open(path, "fp")
	require.NoError(t, err)
	defer s2.Close()

	locked, err := s2.fileLock.TryLock()
	require.NoError(t, err)
	assert.False(t, locked, "a second process must not acquire the writer lock while the first holds it")

	require.NoError(t, s1.Unlock())
}
