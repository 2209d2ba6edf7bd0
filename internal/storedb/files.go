package storedb

import (
	"database/sql"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// UpsertFile inserts or replaces a files row (§4.6 upsertFile).
func (s *Store) UpsertFile(f FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO files(id, path, source, size, mod_time_unix, content_sha256, indexed_at_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			source = excluded.source,
			size = excluded.size,
			mod_time_unix = excluded.mod_time_unix,
			content_sha256 = excluded.content_sha256,
			indexed_at_unix = excluded.indexed_at_unix`,
		f.ID, f.Path, f.Source, f.Size, f.ModTime.Unix(), f.ContentSHA256, f.IndexedAt.Unix())
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.UpsertFile", err)
	}
	return nil
}

// DeleteFile removes a file and cascades to its chunks, vectors, and FTS
// rows (§4.6 deleteFile).
func (s *Store) DeleteFile(relPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fileID string
	err := s.db.QueryRow(`SELECT id FROM files WHERE path = ?`, relPath).Scan(&fileID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.DeleteFile", err)
	}

	return s.deleteFileByID(fileID)
}

func (s *Store) deleteFileByID(fileID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errs.Wrap(errs.IOError, "storedb.deleteFileByID", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.ftsAvailable {
		if _, err := tx.Exec(`DELETE FROM fts_chunks WHERE chunk_id IN (SELECT id FROM chunks WHERE file_id = ?)`, fileID); err != nil {
			return errs.Wrap(errs.IOError, "storedb.deleteFileByID", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE id = ?`, fileID); err != nil {
		return errs.Wrap(errs.IOError, "storedb.deleteFileByID", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.IOError, "storedb.deleteFileByID", err)
	}
	return s.rebuildGraphLocked()
}

// GetFileByPath returns the file row at relPath, or nil if untracked.
func (s *Store) GetFileByPath(relPath string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getFileByPath(relPath)
}

func (s *Store) getFileByPath(relPath string) (*FileRecord, error) {
	var f FileRecord
	var modUnix, idxUnix int64
	err := s.db.QueryRow(`SELECT id, path, source, size, mod_time_unix, content_sha256, indexed_at_unix
		FROM files WHERE path = ?`, relPath).
		Scan(&f.ID, &f.Path, &f.Source, &f.Size, &modUnix, &f.ContentSHA256, &idxUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.getFileByPath", err)
	}
	f.ModTime = unixTime(modUnix)
	f.IndexedAt = unixTime(idxUnix)
	return &f, nil
}

// ListFiles returns every tracked file, for incremental sync reconciliation.
func (s *Store) ListFiles() ([]FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id, path, source, size, mod_time_unix, content_sha256, indexed_at_unix FROM files`)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.ListFiles", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		var modUnix, idxUnix int64
		if err := rows.Scan(&f.ID, &f.Path, &f.Source, &f.Size, &modUnix, &f.ContentSHA256, &idxUnix); err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.ListFiles", err)
		}
		f.ModTime = unixTime(modUnix)
		f.IndexedAt = unixTime(idxUnix)
		out = append(out, f)
	}
	return out, rows.Err()
}
