package sync

import (
	"context"
	"time"

	"github.com/Aman-CERP/memsearch/internal/chunk"
	"github.com/Aman-CERP/memsearch/internal/errs"
	"github.com/Aman-CERP/memsearch/internal/scanner"
	"github.com/Aman-CERP/memsearch/internal/storedb"
)

// syncForced builds a full staging plan from records and swaps it in
// atomically via the store's replaceAll (§4.7 step 3). If embedding any
// chunk fails, nothing is written: the live index is left untouched.
func (e *Engine) syncForced(ctx context.Context, records []scanner.Record) (Result, error) {
	existingFiles, err := e.store.ListFiles()
	if err != nil {
		return Result{}, err
	}
	existingByPath := make(map[string]storedb.FileRecord, len(existingFiles))
	for _, f := range existingFiles {
		existingByPath[f.Path] = f
	}

	plan := storedb.ReindexPlan{
		ChunksByFileID:  make(map[string][]chunk.Chunk, len(records)),
		VectorsBySHA256: map[string][]float32{},
	}
	shaToText := map[string]string{}

	for _, rec := range records {
		select {
		case <-ctx.Done():
			return Result{}, errs.New(errs.Cancelled, "sync.syncForced", "cancelled during chunking", ctx.Err())
		default:
		}

		chunks, err := e.chunkText(rec)
		if err != nil {
			return Result{}, err
		}

		id := fileID(existingByPath, rec.RelPath)
		plan.Files = append(plan.Files, storedb.FileRecord{
			ID:            id,
			Path:          rec.RelPath,
			Source:        string(rec.Source),
			Size:          rec.Size,
			ModTime:       time.Unix(0, rec.MTimeNs),
			ContentSHA256: rec.SHA256,
			IndexedAt:     time.Now(),
		})
		plan.ChunksByFileID[id] = chunks
		for _, c := range chunks {
			shaToText[c.SHA256] = c.Text
		}
	}

	vectors, err := e.embedShaToText(ctx, shaToText)
	if err != nil {
		return Result{}, err
	}
	plan.VectorsBySHA256 = vectors

	if err := e.store.ReplaceAll(plan); err != nil {
		return Result{}, err
	}

	return Result{Added: len(plan.Files)}, nil
}
