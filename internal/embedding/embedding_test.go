package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-assistant/internal/config"
	"swap-assistant/internal/models"
)

type stubEmbedder struct {
	batches  [][]string
	failOn   int
	dims     func(i int) int
	blocking bool
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	s.batches = append(s.batches, texts)
	if s.blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.failOn > 0 && len(s.batches) == s.failOn {
		return nil, errors.New("429 rate limited")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		n := 3
		if s.dims != nil {
			n = s.dims(i)
		}
		v := make([]float32, n)
		v[0] = float32(len(text))
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func makeChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{ID: fmt.Sprintf("chunk-%06d", i), Content: fmt.Sprintf("%0*d", i+1, 0)}
	}
	return chunks
}

func TestEmbedChunksBatchesInOrder(t *testing.T) {
	stub := &stubEmbedder{}
	chunks := makeChunks(5)

	embedded, err := EmbedChunks(context.Background(), stub, chunks, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, embedded, 5)

	assert.Len(t, stub.batches, 3)
	for i, ec := range embedded {
		assert.Equal(t, chunks[i].ID, ec.ID)
		assert.Equal(t, float32(len(chunks[i].Content)), ec.Embedding[0])
	}
}

func TestEmbedChunksFailureReturnsNothing(t *testing.T) {
	stub := &stubEmbedder{failOn: 2}

	embedded, err := EmbedChunks(context.Background(), stub, makeChunks(5), 2, time.Second)
	assert.ErrorIs(t, err, models.ErrEmbeddingProvider)
	assert.Nil(t, embedded)
}

func TestEmbedChunksDimensionMismatch(t *testing.T) {
	stub := &stubEmbedder{dims: func(i int) int { return 3 + i }}

	_, err := EmbedChunks(context.Background(), stub, makeChunks(2), 2, time.Second)
	assert.ErrorIs(t, err, models.ErrEmbeddingDimensionMismatch)
}

func TestEmbedChunksEmpty(t *testing.T) {
	embedded, err := EmbedChunks(context.Background(), &stubEmbedder{}, nil, 2, time.Second)
	assert.NoError(t, err)
	assert.Empty(t, embedded)
}

func TestEmbedQueryTimeout(t *testing.T) {
	stub := &stubEmbedder{blocking: true}

	_, err := EmbedQuery(context.Background(), stub, "Hoe zet ik mijn lease over?", 10*time.Millisecond)
	assert.ErrorIs(t, err, models.ErrEmbeddingProvider)
}

func TestEmbedQuery(t *testing.T) {
	v, err := EmbedQuery(context.Background(), &stubEmbedder{}, "abc", 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 0}, v)
}

func TestNewEmbedderRejectsUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(&config.LLMConfig{Provider: "cohere", Model: "x"})
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)
}

func TestNewEmbedderOpenAI(t *testing.T) {
	embedder, err := NewEmbedder(&config.LLMConfig{Provider: config.ProviderOpenAI, Model: "text-embedding-ada-002", Key: "sk-test"})
	require.NoError(t, err)
	assert.NotNil(t, embedder)
}
