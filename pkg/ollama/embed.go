// Package ollama provides an embedding client for Ollama's HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// APIError is a non-200 reply. Ollama puts the reason in {"error": "..."},
// e.g. when the model has not been pulled.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama: status %d", e.Status)
	}
	return fmt.Sprintf("ollama: status %d: %s", e.Status, e.Message)
}

// EmbedClient calls Ollama's /api/embeddings endpoint.
type EmbedClient struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

// Option configures an EmbedClient.
type Option func(*EmbedClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *EmbedClient) { c.client = hc }
}

// NewEmbedClient creates a client for model at baseURL. dims is the vector
// length the model produces.
func NewEmbedClient(baseURL, model string, dims int, opts ...Option) *EmbedClient {
	c := &EmbedClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/embeddings",
		model:    model,
		dims:     dims,
		client:   http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

// Embed returns the embedding of text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	defer resp.Body.Close()

	var out embedResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&out)
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: out.Error}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("ollama: decode: %w", decodeErr)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("ollama: empty embedding (is " + c.model + " an embedding model?)")
	}

	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *EmbedClient) Model() string { return c.model }

// Dimensions returns the configured vector length.
func (c *EmbedClient) Dimensions() int { return c.dims }
