package embed

import (
	"encoding/json"
	"fmt"
	"strings"
)

// embeddingResponse accepts every response shape named in §4.4:
//
//	{data: [{embedding}]}
//	{embeddings: [[...]]}
//	{embedding: [...]}
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
}

// parseEmbeddings extracts one vector per input text from body, in order.
func parseEmbeddings(body []byte, expected int) ([][]float32, error) {
	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	var vectors [][]float32
	switch {
	case len(resp.Data) > 0:
		for _, d := range resp.Data {
			vectors = append(vectors, d.Embedding)
		}
	case len(resp.Embeddings) > 0:
		vectors = resp.Embeddings
	case len(resp.Embedding) > 0:
		vectors = [][]float32{resp.Embedding}
	default:
		return nil, fmt.Errorf("embedding response contained no recognizable vector field")
	}

	if expected > 0 && len(vectors) != expected {
		return nil, fmt.Errorf("embedding response returned %d vectors, expected %d", len(vectors), expected)
	}
	return vectors, nil
}

// retryablePatterns are substrings whose presence in an error body or
// message classifies the failure as transient (§4.4).
var retryablePatterns = []string{
	"EOF", "EPIPE", "ECONNRESET", "ECONNREFUSED", "timeout",
	"socket hang up", "dial tcp", "broken pipe",
	"connection refused", "connection reset",
}

// isRetryable reports whether msg matches one of the retryable patterns.
func isRetryable(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range retryablePatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// unsupportedPatterns are substrings in a 4xx/5xx body that indicate the
// endpoint itself is not implemented, prompting a fallback to the next
// preference state rather than a retry (§4.4).
var unsupportedPatterns = []string{"not found", "unsupported", "unrecognized", "invalid"}

func isUnsupportedEndpoint(statusCode int, body string) bool {
	switch statusCode {
	case 404, 405, 501:
		return true
	}
	lower := strings.ToLower(body)
	for _, p := range unsupportedPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
