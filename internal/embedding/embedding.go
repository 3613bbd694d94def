package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"swap-assistant/internal/config"
	"swap-assistant/internal/models"
)

// NewEmbedder creates the embedder described by cfg. The same settings must be
// used when building the index and when embedding queries against it.
func NewEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai client: %w", err)
		}
		client = llm
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrInvalidConfiguration, cfg.Provider)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	return embeddings.NewEmbedder(client, embeddings.WithBatchSize(batchSize))
}

// EmbedQuery embeds a single user question. Failures, including timeouts,
// are reported as ErrEmbeddingProvider.
func EmbedQuery(ctx context.Context, embedder embeddings.Embedder, query string, timeout time.Duration) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", models.ErrEmbeddingProvider)
	}
	return vector, nil
}

// EmbedChunks embeds chunks in batches of batchSize and pairs every vector
// with the chunk at the same position. It returns nothing unless every batch
// succeeded and every vector has the same dimension.
func EmbedChunks(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk, batchSize int, timeout time.Duration) ([]models.EmbeddedChunk, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0", models.ErrInvalidConfiguration)
	}

	result := make([]models.EmbeddedChunk, 0, len(chunks))
	dimension := 0
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := embedBatch(ctx, embedder, texts, timeout)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: asked for %d embeddings, got %d", models.ErrEmbeddingProvider, len(batch), len(vectors))
		}

		for i, v := range vectors {
			if dimension == 0 {
				dimension = len(v)
			}
			if len(v) == 0 || len(v) != dimension {
				return nil, fmt.Errorf("%w: chunk %s has %d dimensions, expected %d", models.ErrEmbeddingDimensionMismatch, batch[i].ID, len(v), dimension)
			}
			result = append(result, models.EmbeddedChunk{Chunk: batch[i], Embedding: v})
		}
		log.Debug().Int("done", end).Int("total", len(chunks)).Msg("Embedded batch")
	}
	return result, nil
}

func embedBatch(ctx context.Context, embedder embeddings.Embedder, texts []string, timeout time.Duration) ([][]float32, error) {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingProvider, err)
	}
	return vectors, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
