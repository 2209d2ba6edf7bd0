package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// DefaultOllamaHost is the default ollama-compatible endpoint (§4.4).
const DefaultOllamaHost = "http://localhost:11434"

// preferenceState is one of the four endpoint shapes an ollama-compatible
// server might expose, tried in order until one succeeds (§4.4).
type preferenceState int

const (
	stateOpenAIBatch preferenceState = iota
	stateOpenAISingle
	stateOllamaEmbed
	stateOllamaEmbeddings
)

func (s preferenceState) String() string {
	switch s {
	case stateOpenAIBatch:
		return "openai-batch"
	case stateOpenAISingle:
		return "openai-single"
	case stateOllamaEmbed:
		return "ollama-embed"
	case stateOllamaEmbeddings:
		return "ollama-embeddings"
	default:
		return "unknown"
	}
}

// classification of a single endpoint attempt.
type classification int

const (
	classSuccess classification = iota
	classTransient
	classUnsupported
	classTerminal
)

// OllamaEmbedder is the ollama-compatible Embedding Provider variant. It
// probes, in order, an openai-compatible batch endpoint, an openai-compatible
// single-item endpoint, ollama's native batch endpoint, and ollama's native
// single-item endpoint, latching onto the first that succeeds (§4.4).
type OllamaEmbedder struct {
	client     *http.Client
	openAIBase string
	nativeBase string
	headers    map[string]string
	model      string

	mu      sync.Mutex
	dim     int
	state   preferenceState
	latched bool
}

var _ Provider = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder constructs the ollama-compatible variant.
func NewOllamaEmbedder(model string, opts HTTPOptions) (*OllamaEmbedder, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultOllamaHost
	}
	nativeBase := strings.TrimSuffix(strings.TrimRight(raw, "/"), "/v1")

	client := opts.Client
	if client == nil {
		client = newHTTPClient()
	}

	return &OllamaEmbedder{
		client:     client,
		openAIBase: nativeBase + "/v1",
		nativeBase: nativeBase,
		headers:    opts.Headers,
		model:      model,
	}, nil
}

func (e *OllamaEmbedder) ProviderID() string { return "ollama" }
func (e *OllamaEmbedder) ModelID() string    { return e.model }
func (e *OllamaEmbedder) Close() error       { return nil }

func (e *OllamaEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatch {
		return nil, errs.New(errs.ConfigInvalid, "embed.EmbedBatch", fmt.Sprintf("batch of %d exceeds max %d", len(texts), MaxBatch), nil)
	}

	e.mu.Lock()
	latched, startState := e.latched, e.state
	e.mu.Unlock()

	candidates := []preferenceState{stateOpenAIBatch, stateOpenAISingle, stateOllamaEmbed, stateOllamaEmbeddings}
	if latched {
		candidates = []preferenceState{startState}
	}

	var lastErr error
	for _, st := range candidates {
		vectors, fallback, err := e.tryState(ctx, st, texts)
		if err == nil {
			e.latch(st)
			if derr := e.checkDims(vectors); derr != nil {
				return nil, derr
			}
			return vectors, nil
		}
		if !fallback {
			return nil, err
		}
		lastErr = err
	}

	return nil, errs.New(errs.EmbeddingQueryFailed, "embed.EmbedBatch",
		"exhausted openai-batch, openai-single, ollama-embed, and ollama-embeddings", lastErr)
}

func (e *OllamaEmbedder) latch(st preferenceState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = st
	e.latched = true
}

// tryState drives one preference state through its own retry budget.
// fallback reports whether EmbedBatch should move on to the next state.
func (e *OllamaEmbedder) tryState(ctx context.Context, st preferenceState, texts []string) ([][]float32, bool, error) {
	cfg := errs.DefaultRetryConfig()
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, false, errs.New(errs.Cancelled, "embed.tryState", "context cancelled", ctx.Err())
		default:
		}

		vectors, cls, err := e.call(ctx, st, texts)
		switch cls {
		case classSuccess:
			return vectors, false, nil
		case classTerminal:
			return nil, false, err
		case classUnsupported:
			return nil, true, err
		default: // classTransient
			if attempt >= cfg.MaxRetries {
				return nil, true, err
			}
			select {
			case <-ctx.Done():
				return nil, false, errs.New(errs.Cancelled, "embed.tryState", "context cancelled", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}
	return nil, true, fmt.Errorf("retry budget exhausted for state %s", st)
}

func (e *OllamaEmbedder) call(ctx context.Context, st preferenceState, texts []string) ([][]float32, classification, error) {
	switch st {
	case stateOpenAIBatch:
		return e.doRequest(ctx, e.openAIBase+"/embeddings", map[string]any{"model": e.model, "input": texts}, len(texts))

	case stateOpenAISingle:
		return e.doOneAtATime(ctx, func(text string) (string, map[string]any) {
			return e.openAIBase + "/embeddings", map[string]any{"model": e.model, "input": text}
		}, texts)

	case stateOllamaEmbed:
		return e.doRequest(ctx, e.nativeBase+"/api/embed", map[string]any{"model": e.model, "input": texts}, len(texts))

	case stateOllamaEmbeddings:
		return e.doOneAtATime(ctx, func(text string) (string, map[string]any) {
			return e.nativeBase + "/api/embeddings", map[string]any{"model": e.model, "prompt": text}
		}, texts)

	default:
		return nil, classTerminal, errs.New(errs.ProviderRequestFail, "embed.call", "unknown preference state", nil)
	}
}

func (e *OllamaEmbedder) doOneAtATime(ctx context.Context, build func(text string) (string, map[string]any), texts []string) ([][]float32, classification, error) {
	var vectors [][]float32
	for _, t := range texts {
		url, payload := build(t)
		v, cls, err := e.doRequest(ctx, url, payload, 1)
		if err != nil {
			return nil, cls, err
		}
		vectors = append(vectors, v...)
	}
	return vectors, classSuccess, nil
}

func (e *OllamaEmbedder) doRequest(ctx context.Context, url string, payload map[string]any, expected int) ([][]float32, classification, error) {
	reqBody, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, classTerminal, errs.Wrap(errs.ProviderRequestFail, "embed.doRequest", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if isRetryable(err.Error()) {
			return nil, classTransient, err
		}
		return nil, classTerminal, errs.New(errs.ProviderRequestFail, "embed.doRequest", "transport error", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if isUnsupportedEndpoint(resp.StatusCode, string(body)) {
			return nil, classUnsupported, errs.New(errs.ProviderHTTPError, "embed.doRequest", fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
		}
		if resp.StatusCode >= 500 && isRetryable(string(body)) {
			return nil, classTransient, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
		}
		return nil, classTerminal, errs.New(errs.ProviderHTTPError, "embed.doRequest", fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
	}

	vectors, err := parseEmbeddings(body, expected)
	if err != nil {
		return nil, classUnsupported, errs.Wrap(errs.ProviderRequestFail, "embed.doRequest", err)
	}
	return vectors, classSuccess, nil
}

// checkDims mirrors OpenAIEmbedder's fatal dim-mismatch classification.
func (e *OllamaEmbedder) checkDims(vectors [][]float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, v := range vectors {
		if len(v) == 0 {
			return errs.New(errs.ProviderDimMismatch, "embed.checkDims", "provider returned a zero-length vector", nil)
		}
		if e.dim == 0 {
			e.dim = len(v)
			continue
		}
		if len(v) != e.dim {
			return errs.New(errs.ProviderDimMismatch, "embed.checkDims", fmt.Sprintf("vector dim %d disagrees with prevailing dim %d", len(v), e.dim), nil)
		}
	}
	return nil
}
