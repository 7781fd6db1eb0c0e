// Package openai provides an embedding client backed by the OpenAI
// embeddings API (or any compatible server).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// EmbedClient embeds text with an OpenAI embedding model.
type EmbedClient struct {
	client *openai.Client
	model  string
	dims   int
}

// NewEmbedClient creates a client. An empty baseURL uses the public API; a
// nil hc uses http.DefaultClient.
func NewEmbedClient(apiKey, baseURL, model string, dims int, hc *http.Client) *EmbedClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if hc != nil {
		cfg.HTTPClient = hc
	}
	return &EmbedClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dims:   dims,
	}
}

// Embed returns the embedding of text.
func (c *EmbedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: c.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// Model returns the model name.
func (c *EmbedClient) Model() string { return c.model }

// Dimensions returns the requested vector length.
func (c *EmbedClient) Dimensions() int { return c.dims }
