// Package storedb implements the Index Store (§4.6): a single SQLite file
// holding files, chunks, vectors, and index_meta tables, an optional FTS5
// virtual table for lexical search, and an in-memory coder/hnsw graph for
// vector search rebuilt from the vectors table at open time.
package storedb

import "time"

// FileRecord is a row of the files table.
type FileRecord struct {
	ID            string // opaque id; the Sync Engine assigns a UUID
	Path          string // relative to a Path Gate root
	Source        string // memory | workspace | extra, per scanner.Source
	Size          int64
	ModTime       time.Time
	ContentSHA256 string
	IndexedAt     time.Time
}

// ChunkRecord is a row of the chunks table.
type ChunkRecord struct {
	ID          int64 // autoincrement rowid, the chunkId surfaced by search
	FileID      string
	Index       int
	ByteOffset  int
	ByteLen     int
	Text        string
	ChunkSHA256 string
}

// VectorHit is a vectorSearch result (§4.6): score is cosine similarity in [-1, 1].
type VectorHit struct {
	ChunkID int64
	Score   float32
}

// TextHit is a textSearch result (§4.6): RawScore is the negated FTS5 bm25()
// value, so higher is better; the caller normalizes it to [0, 1] via min-max
// over the batch.
type TextHit struct {
	ChunkID  int64
	RawScore float64
}

// ChunkContext is what loadChunkContext returns: enough to hydrate a result.
type ChunkContext struct {
	ChunkID    int64
	FilePath   string
	Source     string
	ByteOffset int
	Text       string
}

// Status summarizes the store for the Manager Facade's status() (§4.9).
type Status struct {
	Files           int
	Chunks          int
	SourceCounts    []SourceCount
	VectorEnabled   bool
	VectorAvailable bool
	FTSAvailable    bool
	LastSyncedAt    time.Time
	EmbeddingModel  string
}

// SourceCount is one entry of status().sourceCounts.
type SourceCount struct {
	Source string
	Files  int
	Chunks int
}

// index_meta keys.
const (
	metaKeyFingerprint   = "embedding_fingerprint"
	metaKeyLastSyncedAt  = "last_synced_at_unix"
	metaKeySchemaVersion = "schema_version"
)

// CurrentSchemaVersion is bumped whenever the table layout changes in a way
// that isn't forward-compatible with openOrMigrate.
const CurrentSchemaVersion = 1
