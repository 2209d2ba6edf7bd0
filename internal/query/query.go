// Package query implements the Query Planner (§4.8): it fuses vector and
// lexical candidates with configurable weights, enforcing minScore and
// maxResults, and degrades gracefully when either side is unavailable.
package query

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Aman-CERP/memsearch/internal/embed"
	"github.com/Aman-CERP/memsearch/internal/errs"
	"github.com/Aman-CERP/memsearch/internal/storedb"
)

// DefaultCandidateMultiplier scales maxResults into kV/kT (§4.8 step 4).
const DefaultCandidateMultiplier = 3

// Weights are the hybrid fusion weights (w_v, w_t) (§4.8 step 6).
type Weights struct {
	Vector float64
	Text   float64
}

// Options configures one search call.
type Options struct {
	MinScore            float64
	MaxResults          int
	HybridEnabled       bool
	Weights             Weights
	CandidateMultiplier int
	VectorEnabled       bool // store.vector.enabled config toggle
}

func (o Options) withDefaults() Options {
	if o.MaxResults <= 0 {
		o.MaxResults = 20
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if !o.HybridEnabled {
		o.Weights = Weights{Vector: 1, Text: 0}
	}
	return o
}

// Result is one hydrated, ranked search hit.
type Result struct {
	ChunkID    int64
	Path       string
	Source     string
	ByteOffset int
	Text       string
	Score      float64
}

// Planner is the Query Planner (§4.8).
type Planner struct {
	store    *storedb.Store
	provider embed.Provider
	log      *slog.Logger
}

// New builds a Planner over store, embedding queries with provider.
func New(store *storedb.Store, provider embed.Provider, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{store: store, provider: provider, log: logger}
}

// Search executes the hybrid search described in §4.8. It never returns an
// error for a degraded-but-working index: only config_invalid, store_corrupt,
// io_error, and cancelled surface (§7 propagation policy for search).
func (p *Planner) Search(ctx context.Context, queryText string, opts Options) ([]Result, error) {
	opts = opts.withDefaults()

	var queryVec []float32
	if opts.VectorEnabled {
		queryVec = p.embedQueryOrNil(ctx, queryText)
	}

	k := opts.MaxResults * opts.CandidateMultiplier

	var vectorHits []storedb.VectorHit
	if queryVec != nil && opts.VectorEnabled {
		hits, err := p.store.VectorSearch(queryVec, k)
		if err != nil && errs.Is(err, errs.StoreCorrupt) {
			return nil, err
		}
		if err == nil {
			vectorHits = hits
		} else {
			p.log.Warn("vector search degraded", slog.String("err", err.Error()))
		}
	}

	var textHits []storedb.TextHit
	if opts.HybridEnabled {
		hits, err := p.store.TextSearch(queryText, k)
		if err != nil && errs.Is(err, errs.IOError) {
			return nil, err
		}
		if err == nil {
			textHits = hits
		}
	}

	fused := fuse(vectorHits, textHits, opts.Weights)

	var out []Result
	for chunkID, score := range fused {
		if score < opts.MinScore {
			continue
		}
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.Cancelled, "query.Search", "cancelled", ctx.Err())
		default:
		}
		cc, err := p.store.LoadChunkContext(chunkID)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{
			ChunkID:    chunkID,
			Path:       cc.FilePath,
			Source:     cc.Source,
			ByteOffset: cc.ByteOffset,
			Text:       cc.Text,
			Score:      score,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out, nil
}

// embedQueryOrNil computes queryVec (§4.8 step 1): a provider failure, or an
// all-zero vector, both degrade to "no vector candidates" rather than an
// error, per the Query Planner's fallback semantics.
func (p *Planner) embedQueryOrNil(ctx context.Context, queryText string) []float32 {
	if p.provider == nil {
		return nil
	}
	vec, err := p.provider.EmbedQuery(ctx, queryText)
	if err != nil {
		p.log.Warn("embedQuery failed, falling back to keyword-only", slog.String("err", err.Error()))
		return nil
	}
	if isAllZero(vec) {
		return nil
	}
	return vec
}

func isAllZero(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

// fuse normalizes each side to [0, 1] and combines them by weight (§4.8
// steps 5-7), keeping the max fused score per chunkId.
func fuse(vectorHits []storedb.VectorHit, textHits []storedb.TextHit, w Weights) map[int64]float64 {
	vecScores := normalizeVector(vectorHits)
	textScores := normalizeText(textHits)

	fused := make(map[int64]float64, len(vecScores)+len(textScores))
	for chunkID, v := range vecScores {
		fused[chunkID] = w.Vector * v
	}
	for chunkID, t := range textScores {
		fused[chunkID] += w.Text * t
	}
	return fused
}

// normalizeVector maps cosine similarity in [-1, 1] to [0, 1] (§4.8 step 5).
func normalizeVector(hits []storedb.VectorHit) map[int64]float64 {
	out := make(map[int64]float64, len(hits))
	for _, h := range hits {
		out[h.ChunkID] = (float64(h.Score) + 1) / 2
	}
	return out
}

// normalizeText min-max normalizes bm25 scores over the returned batch
// (§4.8 step 5). A batch of one (or all-equal scores) normalizes to 1.
func normalizeText(hits []storedb.TextHit) map[int64]float64 {
	out := make(map[int64]float64, len(hits))
	if len(hits) == 0 {
		return out
	}

	min, max := hits[0].RawScore, hits[0].RawScore
	for _, h := range hits {
		if h.RawScore < min {
			min = h.RawScore
		}
		if h.RawScore > max {
			max = h.RawScore
		}
	}

	span := max - min
	for _, h := range hits {
		if span == 0 {
			out[h.ChunkID] = 1
			continue
		}
		out[h.ChunkID] = (h.RawScore - min) / span
	}
	return out
}
