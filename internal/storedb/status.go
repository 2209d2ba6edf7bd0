package storedb

import (
	"time"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// SetLastSyncedAt records the Sync Engine's completion time (§4.7 step 5).
func (s *Store) SetLastSyncedAt(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMeta(metaKeyLastSyncedAt, formatUnix(t))
}

// GetStatus aggregates the Manager Facade's status() response (§4.9).
func (s *Store) GetStatus() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Status
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&st.Files); err != nil {
		return st, errs.Wrap(errs.IOError, "storedb.GetStatus", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return st, errs.Wrap(errs.IOError, "storedb.GetStatus", err)
	}

	rows, err := s.db.Query(`
		SELECT f.source, COUNT(DISTINCT f.id), COUNT(c.id)
		FROM files f LEFT JOIN chunks c ON c.file_id = f.id
		GROUP BY f.source`)
	if err != nil {
		return st, errs.Wrap(errs.IOError, "storedb.GetStatus", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Files, &sc.Chunks); err != nil {
			return st, errs.Wrap(errs.IOError, "storedb.GetStatus", err)
		}
		st.SourceCounts = append(st.SourceCounts, sc)
	}
	if err := rows.Err(); err != nil {
		return st, errs.Wrap(errs.IOError, "storedb.GetStatus", err)
	}

	st.VectorAvailable = s.graph != nil
	st.FTSAvailable = s.ftsAvailable

	if raw, ok, err := s.getMeta(metaKeyLastSyncedAt); err == nil && ok {
		st.LastSyncedAt = parseUnix(raw)
	}
	return st, nil
}
