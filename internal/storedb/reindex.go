package storedb

import (
	"database/sql"

	"github.com/Aman-CERP/memsearch/internal/chunk"
	"github.com/Aman-CERP/memsearch/internal/errs"
)

// ReindexPlan is the staged replacement content for a forced reindex
// (§4.7 step 3). ChunksByFileID's key is the FileRecord.ID of the owning
// file. VectorsBySHA256 supplies an embedding for any chunk whose content
// hash is a key, sourced from the Embedding Cache or freshly requested.
type ReindexPlan struct {
	Files           []FileRecord
	ChunksByFileID  map[string][]chunk.Chunk
	VectorsBySHA256 map[string][]float32
}

// ReplaceAll stages plan into shadow tables and atomically swaps them for
// the live files/chunks/vectors/fts_chunks tables within a single
// transaction (§4.6 replaceAll). On any error the transaction rolls back
// and the live tables are left exactly as they were.
func (s *Store) ReplaceAll(plan ReindexPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.ReplaceAll", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DROP TABLE IF EXISTS files_staging;
		DROP TABLE IF EXISTS chunks_staging;
		DROP TABLE IF EXISTS vectors_staging;
		CREATE TABLE files_staging (
			id TEXT PRIMARY KEY, path TEXT NOT NULL UNIQUE, source TEXT NOT NULL,
			size INTEGER NOT NULL, mod_time_unix INTEGER NOT NULL,
			content_sha256 TEXT NOT NULL, indexed_at_unix INTEGER NOT NULL
		);
		CREATE TABLE chunks_staging (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id TEXT NOT NULL REFERENCES files_staging(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL, byte_offset INTEGER NOT NULL,
			byte_len INTEGER NOT NULL, text TEXT NOT NULL, chunk_sha256 TEXT NOT NULL
		);
		CREATE TABLE vectors_staging (
			chunk_id INTEGER PRIMARY KEY REFERENCES chunks_staging(id) ON DELETE CASCADE,
			dim INTEGER NOT NULL, vector BLOB NOT NULL
		);
	`); err != nil {
		return errs.Wrap(errs.IOError, "storedb.ReplaceAll", err)
	}

	if err := stageFiles(tx, plan.Files); err != nil {
		return err
	}
	if err := stageChunksAndVectors(tx, plan); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		DROP TABLE vectors;
		DROP TABLE chunks;
		DROP TABLE files;
		ALTER TABLE files_staging RENAME TO files;
		ALTER TABLE chunks_staging RENAME TO chunks;
		ALTER TABLE vectors_staging RENAME TO vectors;
		CREATE INDEX idx_chunks_file ON chunks(file_id);
		CREATE INDEX idx_chunks_sha ON chunks(chunk_sha256);
	`); err != nil {
		return errs.Wrap(errs.IOError, "storedb.ReplaceAll", err)
	}

	if s.ftsAvailable {
		if _, err := tx.Exec(`DROP TABLE IF EXISTS fts_chunks`); err != nil {
			return errs.Wrap(errs.IOError, "storedb.ReplaceAll", err)
		}
		if _, err := tx.Exec(ftsDDL); err != nil {
			return errs.Wrap(errs.IOError, "storedb.ReplaceAll", err)
		}
		if _, err := tx.Exec(`INSERT INTO fts_chunks(chunk_id, text) SELECT id, text FROM chunks`); err != nil {
			return errs.Wrap(errs.IOError, "storedb.ReplaceAll", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.IOError, "storedb.ReplaceAll", err)
	}
	return s.rebuildGraphLocked()
}

func stageFiles(tx *sql.Tx, files []FileRecord) error {
	stmt, err := tx.Prepare(`INSERT INTO files_staging(id, path, source, size, mod_time_unix, content_sha256, indexed_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.stageFiles", err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(f.ID, f.Path, f.Source, f.Size, f.ModTime.Unix(), f.ContentSHA256, f.IndexedAt.Unix()); err != nil {
			return errs.Wrap(errs.IOError, "storedb.stageFiles", err)
		}
	}
	return nil
}

func stageChunksAndVectors(tx *sql.Tx, plan ReindexPlan) error {
	insertChunk, err := tx.Prepare(`INSERT INTO chunks_staging(file_id, chunk_index, byte_offset, byte_len, text, chunk_sha256)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.stageChunksAndVectors", err)
	}
	defer insertChunk.Close()

	insertVector, err := tx.Prepare(`INSERT INTO vectors_staging(chunk_id, dim, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.stageChunksAndVectors", err)
	}
	defer insertVector.Close()

	for _, f := range plan.Files {
		for _, c := range plan.ChunksByFileID[f.ID] {
			res, err := insertChunk.Exec(f.ID, c.Index, c.ByteOffset, c.ByteLen, c.Text, c.SHA256)
			if err != nil {
				return errs.Wrap(errs.IOError, "storedb.stageChunksAndVectors", err)
			}
			chunkID, err := res.LastInsertId()
			if err != nil {
				return errs.Wrap(errs.IOError, "storedb.stageChunksAndVectors", err)
			}

			vec, ok := plan.VectorsBySHA256[c.SHA256]
			if !ok {
				continue
			}
			if _, err := insertVector.Exec(chunkID, len(vec), encodeVector(vec)); err != nil {
				return errs.Wrap(errs.IOError, "storedb.stageChunksAndVectors", err)
			}
		}
	}
	return nil
}
