package storedb

import (
	"database/sql"

	"github.com/Aman-CERP/memsearch/internal/chunk"
	"github.com/Aman-CERP/memsearch/internal/errs"
)

// PutChunks replaces fileID's chunk rows with chunks, returning their
// assigned chunkIds in the same order (§4.6 putChunks). Any existing
// vectors/FTS rows for the file's old chunks are dropped first.
func (s *Store) PutChunks(fileID string, chunks []chunk.Chunk) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.ftsAvailable {
		if _, err := tx.Exec(`DELETE FROM fts_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE file_id = ?)`, fileID); err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
	}

	insertChunk, err := tx.Prepare(`INSERT INTO chunks(file_id, chunk_index, byte_offset, byte_len, text, chunk_sha256)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
	}
	defer insertChunk.Close()

	var ftsStmt *sql.Stmt
	if s.ftsAvailable {
		stmt, err := tx.Prepare(`INSERT INTO fts_chunks(chunk_id, text) VALUES (?, ?)`)
		if err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
		}
		defer stmt.Close()
		ftsStmt = stmt
	}

	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		res, err := insertChunk.Exec(fileID, c.Index, c.ByteOffset, c.ByteLen, c.Text, c.SHA256)
		if err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
		}
		ids[i] = id

		if ftsStmt != nil {
			if _, err := ftsStmt.Exec(id, c.Text); err != nil {
				return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.PutChunks", err)
	}
	return ids, s.rebuildGraphLocked()
}

// PutVectors stores chunkID's embedding (§4.6 putVectors) and refreshes the
// in-memory vector graph.
func (s *Store) PutVectors(vectors map[int64][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.PutVectors", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO vectors(chunk_id, dim, vector) VALUES (?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET dim = excluded.dim, vector = excluded.vector`)
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.PutVectors", err)
	}
	defer stmt.Close()

	for chunkID, vec := range vectors {
		if _, err := stmt.Exec(chunkID, len(vec), encodeVector(vec)); err != nil {
			return errs.Wrap(errs.IOError, "storedb.PutVectors", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.IOError, "storedb.PutVectors", err)
	}
	return s.rebuildGraphLocked()
}

// ChunkSHA256sForFile returns the chunkSha256 of every chunk currently
// stored for fileID, used by incremental sync to decide which chunks can
// reuse a cached vector.
func (s *Store) ChunkSHA256sForFile(fileID string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, chunk_sha256 FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.ChunkSHA256sForFile", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var id int64
		var sha string
		if err := rows.Scan(&id, &sha); err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.ChunkSHA256sForFile", err)
		}
		out[sha] = id
	}
	return out, rows.Err()
}
