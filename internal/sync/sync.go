// Package sync implements the Sync Engine (§4.7): it reconciles the
// Scanner's view of the allowed roots with the Index Store, planning
// added/modified/deleted files, and performs a crash-safe forced reindex
// via the store's staging-table swap.
package sync

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/memsearch/internal/chunk"
	"github.com/Aman-CERP/memsearch/internal/embed"
	"github.com/Aman-CERP/memsearch/internal/embedcache"
	"github.com/Aman-CERP/memsearch/internal/errs"
	"github.com/Aman-CERP/memsearch/internal/pathgate"
	"github.com/Aman-CERP/memsearch/internal/scanner"
	"github.com/Aman-CERP/memsearch/internal/storedb"
)

// DefaultMaxInFlight bounds concurrent embedding batch requests (§5).
const DefaultMaxInFlight = 4

// Config wires an Engine's collaborators.
type Config struct {
	Gate          *pathgate.Gate
	Scanner       *scanner.Scanner
	Store         *storedb.Store
	Cache         *embedcache.Cache
	Provider      embed.Provider
	ChunkOptions  chunk.Options
	ScanOptions   scanner.Options
	CacheEnabled  bool
	VectorEnabled bool
	MaxInFlight   int
	Logger        *slog.Logger
}

// Engine is the Sync Engine (§4.7).
type Engine struct {
	gate          *pathgate.Gate
	scan          *scanner.Scanner
	store         *storedb.Store
	cache         *embedcache.Cache
	provider      embed.Provider
	chunkOpts     chunk.Options
	scanOpts      scanner.Options
	cacheEnabled  bool
	vectorEnabled bool
	maxInFlight   int
	log           *slog.Logger

	mu sync.Mutex // process-local single-writer lock (§4.7 step 1)
}

// New builds an Engine from cfg, filling documented defaults.
func New(cfg Config) *Engine {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gate:          cfg.Gate,
		scan:          cfg.Scanner,
		store:         cfg.Store,
		cache:         cfg.Cache,
		provider:      cfg.Provider,
		chunkOpts:     cfg.ChunkOptions,
		scanOpts:      cfg.ScanOptions,
		cacheEnabled:  cfg.CacheEnabled,
		vectorEnabled: cfg.VectorEnabled,
		maxInFlight:   maxInFlight,
		log:           logger,
	}
}

// Options configures one Sync call (§4.7).
type Options struct {
	Force  bool
	Reason string
}

// Result summarizes what a Sync call did.
type Result struct {
	Forced   bool
	Reason   string
	Added    int
	Modified int
	Deleted  int
	Duration time.Duration
}

// Sync reconciles the store with the current state of the allowed roots
// (§4.7). Concurrent callers on the same Engine serialize; cross-process
// exclusivity is additionally enforced via the store's file lock.
func (e *Engine) Sync(ctx context.Context, opts Options) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now()

	if err := e.store.Lock(); err != nil {
		return Result{}, errs.Wrap(errs.IOError, "sync.Sync", err)
	}
	defer func() {
		if err := e.store.Unlock(); err != nil {
			e.log.Warn("sync: failed to release store lock", slog.String("err", err.Error()))
		}
	}()

	records, err := e.scanSnapshot(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	if opts.Force {
		result, err = e.syncForced(ctx, records)
	} else {
		result, err = e.syncIncremental(ctx, records)
	}
	result.Forced = opts.Force
	result.Reason = opts.Reason
	result.Duration = time.Since(started)
	if err != nil {
		return result, err
	}

	if err := e.store.SetLastSyncedAt(time.Now()); err != nil {
		return result, err
	}
	e.log.Info("sync completed",
		slog.Bool("forced", opts.Force),
		slog.String("reason", opts.Reason),
		slog.Int("added", result.Added),
		slog.Int("modified", result.Modified),
		slog.Int("deleted", result.Deleted),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// scanSnapshot walks the allowed roots once, passing the store's on-record
// (mtime, size, sha256) to the Scanner (§4.2). The store keeps mtimes in
// whole seconds, so a file whose mtime has a sub-second part never matches
// its record and is rehashed on every sync.
func (e *Engine) scanSnapshot(ctx context.Context) ([]scanner.Record, error) {
	existing, err := e.store.ListFiles()
	if err != nil {
		return nil, err
	}
	known := make(map[string]scanner.Known, len(existing))
	for _, f := range existing {
		known[f.Path] = scanner.Known{MTimeNs: f.ModTime.UnixNano(), Size: f.Size, SHA256: f.ContentSHA256}
	}

	opts := e.scanOpts
	opts.Known = func(relPath string) (scanner.Known, bool) {
		k, ok := known[relPath]
		return k, ok
	}

	ch, err := e.scan.Scan(ctx, opts)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "sync.scanSnapshot", err)
	}

	var records []scanner.Record
	for rec := range ch {
		records = append(records, rec)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.New(errs.Cancelled, "sync.scanSnapshot", "scan cancelled", err)
	}
	return records, nil
}

// chunkText reads and splits one scanned file. Returns nil chunks, no error
// for an empty file (the File row is still recorded by the caller so a
// later edit is detected, per §4.7 tie-breaks).
func (e *Engine) chunkText(rec scanner.Record) ([]chunk.Chunk, error) {
	data, err := os.ReadFile(rec.AbsPath)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "sync.chunkText", err)
	}
	return chunk.Split(string(data), e.chunkOpts), nil
}

// embedShaToText resolves a vector for every chunkSha256 key of shaToText,
// consulting the Embedding Cache first and calling the Embedding Provider
// only for misses. Returns an empty map without calling the provider when
// vector indexing is disabled.
func (e *Engine) embedShaToText(ctx context.Context, shaToText map[string]string) (map[string][]float32, error) {
	if !e.vectorEnabled || len(shaToText) == 0 {
		return map[string][]float32{}, nil
	}

	shas := make([]string, 0, len(shaToText))
	for sha := range shaToText {
		shas = append(shas, sha)
	}

	hits := map[string][]float32{}
	if e.cacheEnabled {
		h, err := e.cache.GetBatch(e.provider.ProviderID(), e.provider.ModelID(), shas)
		if err != nil {
			return nil, err
		}
		hits = h
	}

	var missing []string
	for _, sha := range shas {
		if _, ok := hits[sha]; !ok {
			missing = append(missing, sha)
		}
	}
	if len(missing) == 0 {
		return hits, nil
	}

	fresh, err := e.embedBatches(ctx, missing, shaToText)
	if err != nil {
		return nil, err
	}
	for sha, vec := range fresh {
		hits[sha] = vec
	}

	if e.cacheEnabled && len(fresh) > 0 {
		if err := e.cache.PutBatch(e.provider.ProviderID(), e.provider.ModelID(), fresh); err != nil {
			return nil, err
		}
	}
	return hits, nil
}

// embedBatches requests vectors for missing shas in groups of at most
// embed.MaxBatch, with up to maxInFlight batches in flight at once (§5).
func (e *Engine) embedBatches(ctx context.Context, missing []string, shaToText map[string]string) (map[string][]float32, error) {
	var batches [][]string
	for i := 0; i < len(missing); i += embed.MaxBatch {
		end := i + embed.MaxBatch
		if end > len(missing) {
			end = len(missing)
		}
		batches = append(batches, missing[i:end])
	}

	results := make(map[string][]float32, len(missing))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxInFlight)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, sha := range batch {
				texts[i] = shaToText[sha]
			}
			vectors, err := e.provider.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return errs.New(errs.ProviderDimMismatch, "sync.embedBatches",
					"provider returned a different vector count than requested", nil)
			}
			mu.Lock()
			for i, sha := range batch {
				results[sha] = vectors[i]
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fileID returns the stable id for relPath: the existing store row's id if
// tracked, otherwise a freshly minted one (§3 File; content hash alone is
// ambiguous for zero-length files, so ids are UUIDs, not content hashes).
func fileID(existing map[string]storedb.FileRecord, relPath string) string {
	if f, ok := existing[relPath]; ok {
		return f.ID
	}
	return uuid.NewString()
}
