package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"summaid/internal/config"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrDimensionMismatch is returned when the embedding service answers with a
// vector whose length differs from the configured dimension. Stored fragment
// vectors and query vectors must always match, so this fails loudly.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder is the subset of langchaingo's embedder the client needs.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Client wraps an embedder with a hard dimension check.
type Client struct {
	embedder Embedder
	dim      int
}

func NewClient(embedder Embedder, dim int) *Client {
	return &Client{embedder: embedder, dim: dim}
}

func (c *Client) Dim() int { return c.dim }

// EmbedQuery returns the fixed-dimension vector for text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vec) != c.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), c.dim)
	}
	return vec, nil
}

// NewOllamaEmbedder builds an embedder backed by a local ollama server.
func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}

// NewOpenAIEmbedder builds an embedder backed by an OpenAI-compatible API.
func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(llm)
}
