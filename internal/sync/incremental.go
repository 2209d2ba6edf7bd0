package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aman-CERP/memsearch/internal/errs"
	"github.com/Aman-CERP/memsearch/internal/scanner"
	"github.com/Aman-CERP/memsearch/internal/storedb"
)

// syncIncremental compares records against the store's tracked files and
// applies added/modified/deleted diffs (§4.7 step 4). A dim-mismatch or I/O
// failure on one file aborts only that file's update; the loop continues
// and every failure is joined into the returned error.
func (e *Engine) syncIncremental(ctx context.Context, records []scanner.Record) (Result, error) {
	existingFiles, err := e.store.ListFiles()
	if err != nil {
		return Result{}, err
	}
	existingByPath := make(map[string]storedb.FileRecord, len(existingFiles))
	for _, f := range existingFiles {
		existingByPath[f.Path] = f
	}
	scannedByPath := make(map[string]scanner.Record, len(records))
	for _, rec := range records {
		scannedByPath[rec.RelPath] = rec
	}

	var result Result
	var fileErrs []error

	for _, rec := range records {
		select {
		case <-ctx.Done():
			return result, errs.New(errs.Cancelled, "sync.syncIncremental", "cancelled", ctx.Err())
		default:
		}

		existing, tracked := existingByPath[rec.RelPath]
		if tracked && existing.ContentSHA256 == rec.SHA256 {
			continue // unchanged: no write needed
		}

		if err := e.upsertFile(ctx, rec, existingByPath); err != nil {
			fileErrs = append(fileErrs, fmt.Errorf("%s: %w", rec.RelPath, err))
			continue
		}
		if tracked {
			result.Modified++
		} else {
			result.Added++
		}
	}

	for path := range existingByPath {
		if _, stillPresent := scannedByPath[path]; stillPresent {
			continue
		}
		if err := e.store.DeleteFile(path); err != nil {
			fileErrs = append(fileErrs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		result.Deleted++
	}

	if len(fileErrs) > 0 {
		return result, errors.Join(fileErrs...)
	}
	return result, nil
}

// upsertFile chunks, embeds, and writes one added or modified file. Unchanged
// chunks reuse their cached vector; a cache/provider failure here leaves the
// file's previous rows in place (the write happens only after embedding
// succeeds).
func (e *Engine) upsertFile(ctx context.Context, rec scanner.Record, existingByPath map[string]storedb.FileRecord) error {
	chunks, err := e.chunkText(rec)
	if err != nil {
		return err
	}

	shaToText := make(map[string]string, len(chunks))
	for _, c := range chunks {
		shaToText[c.SHA256] = c.Text
	}
	vectors, err := e.embedShaToText(ctx, shaToText)
	if err != nil {
		return err
	}

	id := fileID(existingByPath, rec.RelPath)
	if err := e.store.UpsertFile(storedb.FileRecord{
		ID:            id,
		Path:          rec.RelPath,
		Source:        string(rec.Source),
		Size:          rec.Size,
		ModTime:       time.Unix(0, rec.MTimeNs),
		ContentSHA256: rec.SHA256,
		IndexedAt:     time.Now(),
	}); err != nil {
		return err
	}

	ids, err := e.store.PutChunks(id, chunks)
	if err != nil {
		return err
	}

	if e.vectorEnabled && len(vectors) > 0 {
		byChunkID := make(map[int64][]float32, len(ids))
		for i, c := range chunks {
			if vec, ok := vectors[c.SHA256]; ok {
				byChunkID[ids[i]] = vec
			}
		}
		if err := e.store.PutVectors(byChunkID); err != nil {
			return err
		}
	}
	return nil
}
