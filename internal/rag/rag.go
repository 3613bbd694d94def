package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"swap-assistant/internal/config"
	"swap-assistant/internal/embedding"
	"swap-assistant/internal/llmservice"
	"swap-assistant/internal/memory"
	"swap-assistant/internal/models"
)

// Searcher is a loaded index, either chromemdb.VectorDBManager or db.Store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error)
	Count() int
}

type RAG struct {
	index    Searcher
	embedder embeddings.Embedder
	llm      llmservice.Generator
	cfg      *config.Config
	prompt   *Prompt
}

func NewRAG(index Searcher, embedder embeddings.Embedder, llm llmservice.Generator, cfg *config.Config) (*RAG, error) {
	if index == nil || embedder == nil || llm == nil {
		return nil, errors.New("rag: index, embedder and llm are required")
	}
	if cfg.RAG.TopK <= 0 {
		return nil, fmt.Errorf("%w: rag.top_k must be > 0", models.ErrInvalidConfiguration)
	}
	prompt, err := NewPrompt(cfg.Prompt)
	if err != nil {
		return nil, err
	}
	return &RAG{index: index, embedder: embedder, llm: llm, cfg: cfg, prompt: prompt}, nil
}

func (r *RAG) PromptVersion() string {
	return r.prompt.Version
}

func (r *RAG) IndexSize() int {
	return r.index.Count()
}

// Ask answers query from the indexed chunks. conv may be nil for a stateless
// question; otherwise its history is sent along and the new turn is recorded.
// A blank query returns ErrEmptyQuery without calling any provider.
func (r *RAG) Ask(ctx context.Context, query string, conv *memory.Conversation) (*models.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ErrEmptyQuery
	}

	start := time.Now()
	vector, err := embedding.EmbedQuery(ctx, r.embedder, query, r.cfg.EmbedLLM.Timeout)
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(ctx, vector, r.cfg.RAG.TopK)
	if err != nil {
		return nil, err
	}
	log.Debug().Int("hits", len(hits)).Dur("took", time.Since(start)).Msg("Retrieved context")

	contexts := make([]string, len(hits))
	for i, h := range hits {
		contexts[i] = h.Content
	}
	rendered, err := r.prompt.Render(contexts, query)
	if err != nil {
		return nil, fmt.Errorf("%w: render prompt: %v", models.ErrInvalidConfiguration, err)
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, r.prompt.System)}
	if conv != nil {
		messages = append(messages, conv.Messages()...)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, rendered))

	content, err := llmservice.GenerateContent(ctx, r.llm, &r.cfg.ChatLLM, messages)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		conv.Append(query, content)
	}

	log.Info().Int("sources", len(hits)).Dur("took", time.Since(start)).Msg("Answered question")
	return &models.Answer{
		Query:         query,
		Content:       content,
		Sources:       hits,
		PromptVersion: r.prompt.Version,
	}, nil
}
