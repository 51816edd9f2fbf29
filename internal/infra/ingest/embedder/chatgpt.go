// Package embedder implements the Embedder collaborator port (spec.md §1's
// "string -> float[D]" black box), grounded on
// internal/infra/uploadask/embedder/chatgpt.go's batched embeddings client.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/namtroi/ragbase/internal/infra/llm/chatgpt"
)

// ChatGPT calls an OpenAI-compatible embeddings API, batching requests to
// stay under the provider's per-request token cap.
type ChatGPT struct {
	client    *chatgpt.Client
	model     string
	dimension int
	logger    *slog.Logger
}

// NewChatGPT constructs an embedder backed by the ChatGPT client. dimension
// is the deployment-fixed D declared by the embedding descriptor (spec.md §1).
func NewChatGPT(client *chatgpt.Client, model string, dimension int, logger *slog.Logger) *ChatGPT {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatGPT{
		client:    client,
		model:     strings.TrimSpace(model),
		dimension: dimension,
		logger:    logger.With("component", "ingest.embedder.chatgpt"),
	}
}

// Dimension returns the fixed embedding dimension for this deployment.
func (e *ChatGPT) Dimension() int { return e.dimension }

// Embed requests embeddings for the given texts, batching to stay under the
// provider's token cap.
func (e *ChatGPT) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var (
		out            [][]float32
		batch          []string
		batchTokens    int
		maxBatchTokens = 200_000
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		resp, err := e.client.CreateEmbedding(ctx, chatgpt.EmbeddingRequest{Model: e.model, Input: batch})
		if err != nil {
			return fmt.Errorf("create embedding: %w", err)
		}
		for _, item := range resp.Data {
			vec := make([]float32, len(item.Embedding))
			copy(vec, item.Embedding)
			out = append(out, vec)
		}
		if len(resp.Data) != len(batch) {
			e.logger.Warn("embedding result count mismatch", "expected", len(batch), "got", len(resp.Data))
		}
		batch = batch[:0]
		batchTokens = 0
		return nil
	}

	for _, text := range texts {
		tokens := estimateTokens(text)
		if tokens > maxBatchTokens {
			return nil, fmt.Errorf("text too large for embedding request: estimated tokens=%d", tokens)
		}
		if batchTokens+tokens > maxBatchTokens && len(batch) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, text)
		batchTokens += tokens
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	byRunes := (runes + 1) / 2
	if byRunes < words {
		return words
	}
	return byRunes
}
