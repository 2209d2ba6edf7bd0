package storedb

import (
	"sort"
	"strings"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// VectorSearch returns the k nearest chunks to q by cosine similarity
// (§4.6 vectorSearch). It delegates to the in-memory hnsw graph when
// present; an empty or uninitialized graph yields an empty result, not an
// error — callers fall back to keyword-only ranking per §4.8.
func (s *Store) VectorSearch(q []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.graph == nil || s.graph.Len() == 0 || len(q) == 0 {
		return nil, nil
	}
	if len(q) != s.graphDim {
		return nil, errs.New(errs.ProviderDimMismatch, "storedb.VectorSearch", "query vector dimension disagrees with the stored index", nil)
	}

	nodes := s.graph.Search(q, k)
	hits := make([]VectorHit, 0, len(nodes))
	for _, n := range nodes {
		hits = append(hits, VectorHit{
			ChunkID: n.Key,
			Score:   cosineSimilarity(q, n.Value),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// TextSearch ranks chunks against q via the FTS5 bm25() function
// (§4.6 textSearch). Returns an empty result, not an error, when the FTS
// extension isn't available or the query is empty.
func (s *Store) TextSearch(q string, k int) ([]TextHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ftsAvailable || strings.TrimSpace(q) == "" {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT chunk_id, bm25(fts_chunks) AS score
		FROM fts_chunks
		WHERE fts_chunks MATCH ?
		ORDER BY score
		LIMIT ?`, ftsQuery(q), k)
	if err != nil {
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IOError, "storedb.TextSearch", err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var h TextHit
		if err := rows.Scan(&h.ChunkID, &h.RawScore); err != nil {
			return nil, errs.Wrap(errs.IOError, "storedb.TextSearch", err)
		}
		h.RawScore = -h.RawScore // FTS5 bm25() is negative; flip so higher is better
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery quotes each token so punctuation in the query text can't be
// parsed as FTS5 MATCH syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// LoadChunkContext hydrates a chunkId with its file path, source, and text
// (§4.6 loadChunkContext).
func (s *Store) LoadChunkContext(chunkID int64) (*ChunkContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cc ChunkContext
	cc.ChunkID = chunkID
	err := s.db.QueryRow(`
		SELECT f.path, f.source, c.byte_offset, c.text
		FROM chunks c JOIN files f ON f.id = c.file_id
		WHERE c.id = ?`, chunkID).Scan(&cc.FilePath, &cc.Source, &cc.ByteOffset, &cc.Text)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "storedb.LoadChunkContext", err)
	}
	return &cc, nil
}
