// Package manager implements the Manager Facade (§4.9): it wires the Path
// Gate, Scanner, Chunker, Embedding Provider/Cache, Index Store, Sync
// Engine, Query Planner, and the optional filesystem watcher into the six
// methods surrounding code actually calls: sync, search, readFile, status,
// probeVectorAvailability, and close.
package manager

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/memsearch/internal/chunk"
	"github.com/Aman-CERP/memsearch/internal/config"
	"github.com/Aman-CERP/memsearch/internal/embed"
	"github.com/Aman-CERP/memsearch/internal/embedcache"
	"github.com/Aman-CERP/memsearch/internal/errs"
	"github.com/Aman-CERP/memsearch/internal/pathgate"
	"github.com/Aman-CERP/memsearch/internal/query"
	"github.com/Aman-CERP/memsearch/internal/scanner"
	"github.com/Aman-CERP/memsearch/internal/storedb"
	"github.com/Aman-CERP/memsearch/internal/sync"
	"github.com/Aman-CERP/memsearch/internal/watch"
)

// Sync coalescing keys (§5): concurrent calls of the same kind (two forced,
// or two non-forced) share one in-flight run and its result. A force caller
// keys separately so it never receives a non-force run's result — it still
// waits for that run to finish (the Sync Engine's own single-writer mutex
// serializes it), then always performs its own fresh forced sync.
const (
	syncKeyNormal = "sync"
	syncKeyForced = "sync:forced"
)

// Manager is the Manager Facade (§4.9).
type Manager struct {
	cfg      *config.Config
	gate     *pathgate.Gate
	store    *storedb.Store
	cache    *embedcache.Cache
	provider embed.Provider
	engine   *sync.Engine
	planner  *query.Planner
	watcher  *watch.Watcher
	log      *slog.Logger

	flight singleflight.Group

	watchCancel context.CancelFunc
}

// Status mirrors §4.9's status() shape.
type Status = storedb.Status

// SearchOptions mirrors §4.8/§6's query.minScore and query.maxResults
// configuration keys. Search does not take a SearchOptions: it reads those
// values from the Manager's configuration.
type SearchOptions struct {
	MinScore   float64
	MaxResults int
}

// New wires a Manager from cfg. It opens the Index Store and Embedding
// Cache, constructs the configured Embedding Provider, and starts the
// filesystem watcher when memorySearch.sync.watch is enabled.
func New(cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.ConfigInvalid, "manager.New", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	gate, err := pathgate.New(cfg.Workspace, cfg.MemorySearch.ExtraPaths, 0)
	if err != nil {
		return nil, err
	}

	sc, err := scanner.New(gate)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "manager.New", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	fingerprint := provider.ProviderID() + "/" + provider.ModelID()
	store, err := storedb.Open(filepath.Join(cfg.MemorySearch.Store.Path, "index.sqlite"), fingerprint)
	if err != nil {
		return nil, err
	}

	cachePath := ""
	if cfg.MemorySearch.Cache.Enabled {
		cachePath = filepath.Join(cfg.MemorySearch.Store.Path, "cache", "embeddings.sqlite")
	}
	cache, err := embedcache.Open(cachePath, 0)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	engine := sync.New(sync.Config{
		Gate:          gate,
		Scanner:       sc,
		Store:         store,
		Cache:         cache,
		Provider:      provider,
		ChunkOptions:  chunk.Options{},
		CacheEnabled:  cfg.MemorySearch.Cache.Enabled,
		VectorEnabled: cfg.MemorySearch.Store.Vector.Enabled,
		Logger:        logger,
	})

	planner := query.New(store, provider, logger)

	m := &Manager{
		cfg:      cfg,
		gate:     gate,
		store:    store,
		cache:    cache,
		provider: provider,
		engine:   engine,
		planner:  planner,
		log:      logger,
	}

	if cfg.MemorySearch.Sync.Watch {
		if err := m.startWatching(); err != nil {
			m.log.Warn("manager: filesystem watch disabled", slog.String("err", err.Error()))
		}
	}

	return m, nil
}

func newProvider(cfg *config.Config) (embed.Provider, error) {
	override := cfg.ProviderOverrideFor(string(cfg.MemorySearch.Provider))
	opts := embed.HTTPOptions{
		BaseURL: override.BaseURL,
		APIKey:  override.APIKey,
		Headers: override.Headers,
	}
	switch cfg.MemorySearch.Provider {
	case config.ProviderOpenAI:
		return embed.NewOpenAIEmbedder(cfg.ModelID(), opts)
	case config.ProviderOllama:
		if opts.BaseURL == "" {
			opts.BaseURL = embed.DefaultOllamaHost
		}
		return embed.NewOllamaEmbedder(cfg.ModelID(), opts)
	default:
		return nil, errs.New(errs.ConfigInvalid, "manager.newProvider", "unknown provider "+string(cfg.MemorySearch.Provider), nil)
	}
}

// Sync reconciles the Index Store with the allowed roots (§4.9 sync).
// Concurrent callers of the same kind coalesce into one in-flight run and
// share its result; a force request arriving while a non-force sync is
// running waits for that sync to finish, then always performs its own new
// forced sync rather than reusing the non-force result (§5).
func (m *Manager) Sync(ctx context.Context, opts sync.Options) (sync.Result, error) {
	key := syncKeyNormal
	if opts.Force {
		key = syncKeyForced
	}
	v, err, _ := m.flight.Do(key, func() (interface{}, error) {
		return m.engine.Sync(ctx, opts)
	})
	if err != nil {
		if result, ok := v.(sync.Result); ok {
			return result, err
		}
		return sync.Result{}, err
	}
	return v.(sync.Result), nil
}

// Search executes the hybrid query (§4.9 search, §4.8).
func (m *Manager) Search(ctx context.Context, queryText string) ([]query.Result, error) {
	if m.cfg.MemorySearch.Sync.OnSearch {
		if _, err := m.Sync(ctx, sync.Options{Reason: "onSearch"}); err != nil {
			m.log.Warn("manager: pre-search sync failed, searching stale index", slog.String("err", err.Error()))
		}
	}

	status, err := m.store.GetStatus()
	if err != nil {
		return nil, err
	}

	hybrid := m.cfg.MemorySearch.Query.Hybrid
	return m.planner.Search(ctx, queryText, query.Options{
		MinScore:            m.cfg.MemorySearch.Query.MinScore,
		MaxResults:          m.cfg.MemorySearch.Query.MaxResults,
		HybridEnabled:       hybrid.Enabled,
		Weights:             query.Weights{Vector: hybrid.VectorWeight, Text: hybrid.TextWeight},
		CandidateMultiplier: hybrid.CandidateMultiplier,
		VectorEnabled:       m.cfg.MemorySearch.Store.Vector.Enabled && status.VectorAvailable,
	})
}

// ReadFile returns the content at relPath, resolved through the Path Gate
// (§4.9 readFile).
func (m *Manager) ReadFile(relPath string) ([]byte, error) {
	abs, _, err := m.gate.Resolve(relPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, "manager.ReadFile", err)
	}
	return data, nil
}

// Status reports the Index Store's summary (§4.9 status).
func (m *Manager) Status() (Status, error) {
	status, err := m.store.GetStatus()
	if err != nil {
		return Status{}, err
	}
	status.VectorEnabled = m.cfg.MemorySearch.Store.Vector.Enabled
	status.EmbeddingModel = m.provider.ProviderID() + "/" + m.provider.ModelID()
	return status, nil
}

// ProbeVectorAvailability reports whether the native vector graph is usable
// right now (§4.9 probeVectorAvailability).
func (m *Manager) ProbeVectorAvailability() bool {
	status, err := m.store.GetStatus()
	if err != nil {
		return false
	}
	return status.VectorAvailable
}

// startWatching launches the debounced filesystem watcher over the
// workspace root and triggers a non-forced sync on every debounced batch
// (the memorySearch.sync.watch configuration key, §6).
func (m *Manager) startWatching() error {
	w, err := watch.New(m.cfg.Workspace, watch.DefaultDebounceWindow)
	if err != nil {
		return err
	}
	m.watcher = w

	ctx, cancel := context.WithCancel(context.Background())
	m.watchCancel = cancel

	go func() {
		if err := w.Start(ctx); err != nil {
			m.log.Warn("manager: watcher stopped", slog.String("err", err.Error()))
		}
	}()

	go func() {
		for range w.Events() {
			syncCtx, syncCancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := m.Sync(syncCtx, sync.Options{Reason: "watch"}); err != nil {
				m.log.Warn("manager: watch-triggered sync failed", slog.String("err", err.Error()))
			}
			syncCancel()
		}
	}()

	return nil
}

// Close releases the Index Store, Embedding Cache, and watcher (§4.9
// close).
func (m *Manager) Close() error {
	if m.watchCancel != nil {
		m.watchCancel()
	}
	if m.watcher != nil {
		_ = m.watcher.Stop()
	}
	if err := m.cache.Close(); err != nil {
		return err
	}
	if err := m.provider.Close(); err != nil {
		return err
	}
	return m.store.Close()
}
