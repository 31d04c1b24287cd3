// Package embed is the text-to-vector client C3's retriever needs for its
// semantic leg: it turns a query string into the same embedding space the
// offline catalogue indexer used to build the HNSW index, against a local
// Ollama-style /api/embed endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaEmbedder calls a local embedding endpoint over HTTP, racing the
// round-trip against ctx the same way the chat client does.
type OllamaEmbedder struct {
	httpClient *http.Client
	transport  *http.Transport
	endpoint   string
	model      string
}

// NewOllamaEmbedder builds an embedder against the given endpoint and model.
func NewOllamaEmbedder(endpoint, model string, requestTimeout time.Duration) *OllamaEmbedder {
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaEmbedder{
		httpClient: &http.Client{Transport: transport, Timeout: requestTimeout},
		transport:  transport,
		endpoint:   endpoint,
		model:      model,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Embed returns the embedding vector for text, satisfying retrieval.Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		vec []float32
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := e.httpClient.Do(req)
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{err: fmt.Errorf("embed endpoint status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		var decoded embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			resultCh <- result{err: fmt.Errorf("decode embed response: %w", err)}
			return
		}
		if len(decoded.Embeddings) == 0 {
			resultCh <- result{err: fmt.Errorf("embed endpoint returned no vectors")}
			return
		}
		raw := decoded.Embeddings[0]
		vec := make([]float32, len(raw))
		for i, v := range raw {
			vec[i] = float32(v)
		}
		resultCh <- result{vec: vec}
	}()

	select {
	case <-ctx.Done():
		e.transport.CloseIdleConnections()
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.vec, r.err
	}
}

// Close releases pooled connections.
func (e *OllamaEmbedder) Close() {
	e.transport.CloseIdleConnections()
}
