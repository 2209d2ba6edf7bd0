// Package embed implements the Embedding Provider (§4.4): it converts text
// batches into fixed-dimension vectors via one of two HTTP-backed variants,
// openai-compatible and ollama-compatible, sharing one transport and a
// retry/endpoint-fallback state machine.
package embed

import (
	"context"
	"net/http"
	"time"
)

// MaxBatch bounds EmbedBatch's input length (§4.4 input constraints).
const MaxBatch = 256

// DefaultRequestTimeout is the per-HTTP-request timeout (§5).
const DefaultRequestTimeout = 60 * time.Second

// Provider is the Embedding Provider contract (§4.4).
type Provider interface {
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds up to MaxBatch non-empty texts, returning vectors of
	// equal dimension in input order. Empty input returns empty output.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, 0 until the first call
	// that observes a vector establishes it.
	Dimensions() int

	// ProviderID identifies the provider variant ("openai" or "ollama"),
	// used as half of the Embedding Fingerprint (§3 IndexMeta).
	ProviderID() string

	// ModelID identifies the model in use.
	ModelID() string

	Close() error
}

// HTTPOptions configures the shared transport used by both provider variants.
type HTTPOptions struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
	Client  *http.Client // nil uses a pooled default
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultRequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}
