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

	"github.com/Aman-CERP/memsearch/internal/errs"
)

// DefaultOpenAIBaseURL is the default OpenAI-compatible endpoint (§4.4).
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIEmbedder is the openai-compatible Embedding Provider variant.
type OpenAIEmbedder struct {
	client  *http.Client
	baseURL string
	apiKey  string
	headers map[string]string
	model   string

	mu  sync.Mutex
	dim int
}

var _ Provider = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder constructs the openai-compatible variant. apiKey is only
// required when baseURL resolves to the default OpenAI endpoint (§4.4): for
// third-party OpenAI-compatible servers the key is optional.
func NewOpenAIEmbedder(model string, opts HTTPOptions) (*OpenAIEmbedder, error) {
	baseURL := opts.BaseURL
	isDefault := baseURL == "" || baseURL == DefaultOpenAIBaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	} else if !hasPath(baseURL) {
		baseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}

	if isDefault && opts.APIKey == "" {
		return nil, errs.New(errs.ProviderAuthMissing, "embed.NewOpenAIEmbedder", "apiKey is required for the default OpenAI endpoint", nil)
	}

	client := opts.Client
	if client == nil {
		client = newHTTPClient()
	}

	return &OpenAIEmbedder{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  opts.APIKey,
		headers: opts.Headers,
		model:   model,
	}, nil
}

func hasPath(rawURL string) bool {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	return strings.Contains(trimmed, "/")
}

func (e *OpenAIEmbedder) ProviderID() string { return "openai" }
func (e *OpenAIEmbedder) ModelID() string    { return e.model }
func (e *OpenAIEmbedder) Close() error       { return nil }

func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > MaxBatch {
		return nil, errs.New(errs.ConfigInvalid, "embed.EmbedBatch", fmt.Sprintf("batch of %d exceeds max %d", len(texts), MaxBatch), nil)
	}

	vectors, err := callWithRetry(ctx, func() ([][]float32, error) { return e.call(ctx, texts) })
	if err != nil {
		return nil, err
	}

	if err := e.checkDims(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// callWithRetry retries only transport/5xx errors that classify as
// retryable (plain, untagged errors returned by call()); any *errs.Error
// is a terminal classification and is returned immediately, unretried.
func callWithRetry(ctx context.Context, call func() ([][]float32, error)) ([][]float32, error) {
	var vectors [][]float32
	err := errs.Retry(ctx, errs.DefaultRetryConfig(), func(attempt int) error {
		v, callErr := call()
		if callErr == nil {
			vectors = v
			return nil
		}
		if errs.KindOf(callErr) != "" {
			return errs.Stop(callErr)
		}
		return callErr
	})
	if err == nil {
		return vectors, nil
	}
	if errs.KindOf(err) != "" {
		return nil, err
	}
	return nil, errs.Wrap(errs.ProviderRequestFail, "embed.call", err)
}

func (e *OpenAIEmbedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, _ := json.Marshal(map[string]any{
		"model": e.model,
		"input": texts,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if isRetryable(err.Error()) {
			return nil, err // surfaced as-is so Retry retries it
		}
		return nil, errs.New(errs.ProviderRequestFail, "embed.call", "transport error", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 && isRetryable(string(body)) {
			return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
		}
		return nil, errs.New(errs.ProviderHTTPError, "embed.call", fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
	}

	vectors, err := parseEmbeddings(body, len(texts))
	if err != nil {
		return nil, errs.Wrap(errs.ProviderRequestFail, "embed.call", err)
	}
	return vectors, nil
}

// checkDims enforces the fatal provider_dim_mismatch classification (§4.4,
// §9 Open Question: dim=0 is a mismatch, never silently skipped).
func (e *OpenAIEmbedder) checkDims(vectors [][]float32) error {
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
