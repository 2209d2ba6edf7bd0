package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Aman-CERP/memsearch/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIEmbedderRequiresAPIKeyForDefaultEndpoint(t *testing.T) {
	_, err := NewOpenAIEmbedder("text-embedding-3-small", HTTPOptions{})
	require.Error(t, err)
	assert.Equal(t, errs.ProviderAuthMissing, errs.KindOf(err))
}

func TestNewOpenAIEmbedderAllowsNoKeyForThirdPartyEndpoint(t *testing.T) {
	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: "http://localhost:8080"})
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestOpenAIEmbedQuerySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	v, err := e.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
	assert.Equal(t, 3, e.Dimensions())
}

func TestOpenAIEmbedBatchRejectsOversizeBatch(t *testing.T) {
	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: "http://localhost:1", APIKey: "k"})
	require.NoError(t, err)

	texts := make([]string, MaxBatch+1)
	_, err = e.EmbedBatch(context.Background(), texts)
	require.Error(t, err)
	assert.Equal(t, errs.ConfigInvalid, errs.KindOf(err))
}

func TestOpenAIEmbedBatchDimMismatchIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}},
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, errs.ProviderDimMismatch, errs.KindOf(err))
}

func TestOpenAIEmbedBatchZeroLengthVectorIsDimMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{}}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, errs.ProviderDimMismatch, errs.KindOf(err))
}

func TestOpenAIEmbedBatchRetriesTransientServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("connection reset by peer"))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 2}},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	v, err := e.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, v)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestOpenAIEmbedBatchNonRetryable4xxFailsImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = e.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Equal(t, errs.ProviderHTTPError, errs.KindOf(err))
	assert.Equal(t, 1, attempts, "non-retryable errors must not consume the retry budget")
}

func TestOpenAIEmbedBatchEmptyInputReturnsEmptyOutput(t *testing.T) {
	e, err := NewOpenAIEmbedder("m", HTTPOptions{BaseURL: "http://localhost:1", APIKey: "k"})
	require.NoError(t, err)

	v, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, v)
}
