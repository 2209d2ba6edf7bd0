package storedb

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

CREATE TABLE IF NOT EXISTS files (
	id              TEXT PRIMARY KEY,
	path            TEXT NOT NULL UNIQUE,
	source          TEXT NOT NULL,
	size            INTEGER NOT NULL,
	mod_time_unix   INTEGER NOT NULL,
	content_sha256  TEXT NOT NULL,
	indexed_at_unix INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id      TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	chunk_index  INTEGER NOT NULL,
	byte_offset  INTEGER NOT NULL,
	byte_len     INTEGER NOT NULL,
	text         TEXT NOT NULL,
	chunk_sha256 TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
CREATE INDEX IF NOT EXISTS idx_chunks_sha ON chunks(chunk_sha256);

CREATE TABLE IF NOT EXISTS vectors (
	chunk_id INTEGER PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	dim      INTEGER NOT NULL,
	vector   BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

const ftsDDL = `CREATE VIRTUAL TABLE IF NOT EXISTS fts_chunks USING fts5(chunk_id UNINDEXED, text, tokenize='unicode61');`

// Store is the open Index Store: one SQLite connection plus an in-memory
// vector graph kept in sync with the vectors table.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string

	ftsAvailable bool

	graph    *hnsw.Graph[int64]
	graphDim int

	fileLock *flock.Flock
	locked   bool
}

// Open opens or creates the Index Store at path, applying pragmas and schema,
// then reconciling embeddingFingerprint against index_meta (§4.6
// openOrMigrate). A fingerprint change drops all vectors rows, so vector
// queries return no hits until a sync repopulates them. path == "" opens an
// in-memory database, for tests.
func Open(path, embeddingFingerprint string) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.Open", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.StoreCorrupt, "storedb.Open", err)
	}
	db.SetMaxOpenConns(1) // single writer; also required for a shared in-memory db

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errs.Wrap(errs.StoreCorrupt, "storedb.Open", err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.StoreCorrupt, "storedb.Open", err)
	}

	s := &Store{db: db, path: path}

	if _, err := db.Exec(ftsDDL); err != nil {
		s.ftsAvailable = false
	} else {
		s.ftsAvailable = true
	}

	if path != "" {
		s.fileLock = flock.New(path + ".lock")
	}

	if err := s.openOrMigrate(embeddingFingerprint); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.rebuildGraph(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// openOrMigrate reconciles the stored embedding fingerprint with the one the
// caller is configured for; a mismatch drops vectors and forces a reindex
// before vector queries can be answered (§4.6).
func (s *Store) openOrMigrate(embeddingFingerprint string) error {
	stored, ok, err := s.getMeta(metaKeyFingerprint)
	if err != nil {
		return errs.Wrap(errs.StoreCorrupt, "storedb.openOrMigrate", err)
	}

	if !ok {
		return s.setMeta(metaKeyFingerprint, embeddingFingerprint)
	}
	if stored == embeddingFingerprint {
		return nil
	}

	if _, err := s.db.Exec("DELETE FROM vectors"); err != nil {
		return errs.Wrap(errs.StoreCorrupt, "storedb.openOrMigrate", err)
	}
	return s.setMeta(metaKeyFingerprint, embeddingFingerprint)
}

// rebuildGraph reconstructs the in-memory vector graph from the vectors
// table. Called at Open and after any bulk mutation of that table.
func (s *Store) rebuildGraph() error {
	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20

	rows, err := s.db.Query(`SELECT chunk_id, dim, vector FROM vectors`)
	if err != nil {
		return errs.Wrap(errs.StoreCorrupt, "storedb.rebuildGraph", err)
	}
	defer rows.Close()

	dim := 0
	for rows.Next() {
		var chunkID int64
		var d int
		var blob []byte
		if err := rows.Scan(&chunkID, &d, &blob); err != nil {
			return errs.Wrap(errs.StoreCorrupt, "storedb.rebuildGraph", err)
		}
		vec := decodeVector(blob, d)
		graph.Add(hnsw.MakeNode(chunkID, vec))
		dim = d
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(errs.StoreCorrupt, "storedb.rebuildGraph", err)
	}

	s.mu.Lock()
	s.graph = graph
	s.graphDim = dim
	s.mu.Unlock()
	return nil
}

// rebuildGraphLocked is rebuildGraph for callers that already hold s.mu
// (Lock, not RLock) for writing; it swaps the graph without re-locking.
func (s *Store) rebuildGraphLocked() error {
	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20

	rows, err := s.db.Query(`SELECT chunk_id, dim, vector FROM vectors`)
	if err != nil {
		return errs.Wrap(errs.StoreCorrupt, "storedb.rebuildGraphLocked", err)
	}
	defer rows.Close()

	dim := 0
	for rows.Next() {
		var chunkID int64
		var d int
		var blob []byte
		if err := rows.Scan(&chunkID, &d, &blob); err != nil {
			return errs.Wrap(errs.StoreCorrupt, "storedb.rebuildGraphLocked", err)
		}
		vec := decodeVector(blob, d)
		graph.Add(hnsw.MakeNode(chunkID, vec))
		dim = d
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(errs.StoreCorrupt, "storedb.rebuildGraphLocked", err)
	}

	s.graph = graph
	s.graphDim = dim
	return nil
}

// probeVectorAvailability reports whether the native vector graph is usable
// (§4.6). coder/hnsw is a pure-Go, always-linked dependency, so this is true
// once the store has been opened.
func (s *Store) probeVectorAvailability() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph != nil
}

// FTSAvailable reports whether the fts_chunks virtual table was created.
func (s *Store) FTSAvailable() bool {
	return s.ftsAvailable
}

// Lock acquires the cross-process exclusive file lock guarding writers
// (§4.6, §5: "Index Store file: single writer, many readers; exclusive file
// lock per process"). A no-op for in-memory stores.
func (s *Store) Lock() error {
	if s.fileLock == nil {
		return nil
	}
	if err := s.fileLock.Lock(); err != nil {
		return errs.Wrap(errs.IOError, "storedb.Lock", err)
	}
	s.locked = true
	return nil
}

// Unlock releases the writer lock acquired by Lock.
func (s *Store) Unlock() error {
	if s.fileLock == nil || !s.locked {
		return nil
	}
	if err := s.fileLock.Unlock(); err != nil {
		return errs.Wrap(errs.IOError, "storedb.Unlock", err)
	}
	s.locked = false
	return nil
}

// Close releases the database connection and any held file lock.
func (s *Store) Close() error {
	_ = s.Unlock()
	if err := s.db.Close(); err != nil {
		return errs.Wrap(errs.IOError, "storedb.Close", err)
	}
	return nil
}

func (s *Store) getMeta(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM index_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) setMeta(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO index_meta(key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
