// Package oracle implements C4: the LLM decision oracle that classifies a
// row into match/ambiguous/decompose and performs unit conversion. It wraps
// a chat-completion HTTP endpoint behind strict JSON-schema validation,
// transport retry with backoff, and a circuit breaker.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a minimal chat-completion client, modeled after a local Ollama
// deployment's /api/chat endpoint: one model, JSON-mode responses, no
// streaming.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	endpoint   string
	model      string
	temperature float64
	topP        float64
}

// NewClient builds a Client against the given chat-completion endpoint.
func NewClient(endpoint, model string, temperature, topP float64, requestTimeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}
	return &Client{
		httpClient:  &http.Client{Transport: transport, Timeout: requestTimeout},
		transport:   transport,
		endpoint:    endpoint,
		model:       model,
		temperature: temperature,
		topP:        topP,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Format   string        `json:"format"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// transportError marks failures that the retry policy should treat as
// LLMTransport (network errors, 5xx, 429) rather than malformed-response
// failures.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// complete sends a single-turn chat completion request and returns the raw
// assistant message content. Cancellation races the HTTP round-trip against
// ctx, matching the goroutine+channel pattern used for embedding calls.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Format: "json",
		Stream: false,
		Options: chatOptions{
			Temperature: c.temperature,
			TopP:        c.topP,
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		content string
		err     error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			resultCh <- result{err: &transportError{err}}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{err: &transportError{fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))}}
			return
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		var decoded chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			resultCh <- result{err: fmt.Errorf("decode chat response: %w", err)}
			return
		}
		resultCh <- result{content: decoded.Message.Content}
	}()

	select {
	case <-ctx.Done():
		c.transport.CloseIdleConnections()
		return "", ctx.Err()
	case r := <-resultCh:
		return r.content, r.err
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}
