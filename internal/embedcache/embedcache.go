// Package embedcache implements the Embedding Cache (§4.5): a persistent
// map keyed by (providerId, modelId, chunkSha256), stored alongside the
// Index Store, fronted by a bounded in-process LRU so repeat lookups within
// a single sync or query don't round-trip through SQLite.
package embedcache

import (
	"database/sql"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// DefaultFrontCacheSize bounds the in-process LRU front-cache.
const DefaultFrontCacheSize = 4096

// Cache is the persistent Embedding Cache.
type Cache struct {
	mu    sync.Mutex
	db    *sql.DB
	front *lru.Cache[string, []float32]
}

// Open opens or creates the cache database at path. path == "" opens an
// in-memory cache, for tests and for callers that opt out of persistence.
func Open(path string, frontCacheSize int) (*Cache, error) {
	if frontCacheSize <= 0 {
		frontCacheSize = DefaultFrontCacheSize
	}

	dsn := "file::memory:?cache=shared"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errs.Wrap(errs.IOError, "embedcache.Open", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.StoreCorrupt, "embedcache.Open", err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errs.Wrap(errs.StoreCorrupt, "embedcache.Open", err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS embedding_cache (
		cache_key TEXT PRIMARY KEY,
		dim       INTEGER NOT NULL,
		vector    BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(errs.StoreCorrupt, "embedcache.Open", err)
	}

	front, _ := lru.New[string, []float32](frontCacheSize)
	return &Cache{db: db, front: front}, nil
}

// Close releases the underlying database connection.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return errs.Wrap(errs.IOError, "embedcache.Close", err)
	}
	return nil
}

// Get returns providerId/modelId/chunkSha256's cached vector, if present.
func (c *Cache) Get(providerID, modelID, chunkSHA256 string) ([]float32, bool, error) {
	key := cacheKey(providerID, modelID, chunkSHA256)

	if v, ok := c.front.Get(key); ok {
		return v, true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var dim int
	var blob []byte
	err := c.db.QueryRow(`SELECT dim, vector FROM embedding_cache WHERE cache_key = ?`, key).Scan(&dim, &blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.IOError, "embedcache.Get", err)
	}

	v := decodeVector(blob, dim)
	c.front.Add(key, v)
	return v, true, nil
}

// GetBatch looks up every chunkSha256 in shas, returning a map of only the
// hits. Callers request vectors for the misses from the Embedding Provider.
func (c *Cache) GetBatch(providerID, modelID string, shas []string) (map[string][]float32, error) {
	hits := make(map[string][]float32, len(shas))
	for _, sha := range shas {
		v, ok, err := c.Get(providerID, modelID, sha)
		if err != nil {
			return nil, err
		}
		if ok {
			hits[sha] = v
		}
	}
	return hits, nil
}

// PutBatch stores vectors keyed by chunkSha256, transactionally (§4.5
// putBatch).
func (c *Cache) PutBatch(providerID, modelID string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "embedcache.PutBatch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO embedding_cache(cache_key, dim, vector) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET dim = excluded.dim, vector = excluded.vector`)
	if err != nil {
		return errs.Wrap(errs.IOError, "embedcache.PutBatch", err)
	}
	defer stmt.Close()

	for sha, vec := range vectors {
		key := cacheKey(providerID, modelID, sha)
		if _, err := stmt.Exec(key, len(vec), encodeVector(vec)); err != nil {
			return errs.Wrap(errs.IOError, "embedcache.PutBatch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.IOError, "embedcache.PutBatch", err)
	}

	for sha, vec := range vectors {
		c.front.Add(cacheKey(providerID, modelID, sha), vec)
	}
	return nil
}

func cacheKey(providerID, modelID, chunkSHA256 string) string {
	return providerID + "/" + modelID + "/" + chunkSHA256
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) []float32 {
	v := make([]float32, dim)
	for i := 0; i < dim && (i+1)*4 <= len(buf); i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
