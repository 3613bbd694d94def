package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"swap-assistant/internal/chromemdb"
	"swap-assistant/internal/config"
	"swap-assistant/internal/embedding"
	"swap-assistant/internal/models"
	"swap-assistant/internal/parser"
)

// PersistFunc writes a finished index to its backend.
type PersistFunc func(ctx context.Context, chunks []models.EmbeddedChunk, manifest models.Manifest) error

// FileBackend persists into the chromem-go directory named in cfg.Index.
func FileBackend(cfg *config.IndexConfig) PersistFunc {
	return func(ctx context.Context, chunks []models.EmbeddedChunk, manifest models.Manifest) error {
		return chromemdb.Save(ctx, cfg.Dir, chunks, manifest, chromemdb.Options{
			Collection:    cfg.Collection,
			Compress:      cfg.Compress,
			EncryptionKey: cfg.EncryptionKey,
		})
	}
}

type Builder struct {
	cfg      *config.Config
	embedder embeddings.Embedder
	persist  PersistFunc
}

func NewBuilder(cfg *config.Config, embedder embeddings.Embedder, persist PersistFunc) *Builder {
	return &Builder{cfg: cfg, embedder: embedder, persist: persist}
}

// LoadRecords reads the FAQ table and any knowledge documents, in that order.
func LoadRecords(cfg *config.Config, table string, documents []string) ([]models.SourceRecord, error) {
	var records []models.SourceRecord
	if table != "" {
		rows, err := parser.ParseTable(table, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", table, err)
		}
		log.Info().Str("file", table).Int("records", len(rows)).Msg("Parsed FAQ table")
		records = append(records, rows...)
	}
	for _, doc := range documents {
		parsed, err := parser.ParseDocument(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", doc, err)
		}
		log.Info().Str("file", doc).Int("records", len(parsed)).Msg("Parsed document")
		records = append(records, parsed...)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no input records, pass a FAQ table or documents", models.ErrInvalidConfiguration)
	}
	return records, nil
}

// Plan chunks records with the configured settings.
func (b *Builder) Plan(records []models.SourceRecord) ([]models.Chunk, error) {
	return parser.ChunkRecords(records, b.cfg.RAG.ChunkSize, b.cfg.RAG.ChunkOverlap)
}

// Verify checks that the chunks of every record merge back into its text.
func Verify(records []models.SourceRecord, chunks []models.Chunk, overlap int) error {
	next := 0
	for _, r := range records {
		var parts []string
		if r.Text() != "" {
			for next < len(chunks) && (len(parts) == 0 || chunks[next].ChunkID != 1) {
				parts = append(parts, chunks[next].Content)
				next++
			}
		}
		if merged := parser.MergeChunks(parts, overlap); merged != r.Text() {
			return fmt.Errorf("%s row %d: chunks do not reproduce the record text", r.Source, r.Row)
		}
	}
	if next != len(chunks) {
		return fmt.Errorf("%d chunks left over after verification", len(chunks)-next)
	}
	return nil
}

// Build chunks, embeds and persists records. Nothing is persisted unless
// every chunk was embedded.
func (b *Builder) Build(ctx context.Context, records []models.SourceRecord) (models.Manifest, error) {
	if b.embedder == nil || b.persist == nil {
		return models.Manifest{}, errors.New("indexer: embedder and backend are required")
	}

	start := time.Now()
	chunks, err := b.Plan(records)
	if err != nil {
		return models.Manifest{}, err
	}
	log.Info().Int("records", len(records)).Int("chunks", len(chunks)).Msg("Chunked records")

	vectors, err := embedding.EmbedChunks(ctx, b.embedder, chunks, b.cfg.EmbedLLM.BatchSize, b.cfg.EmbedLLM.Timeout)
	if err != nil {
		return models.Manifest{}, err
	}

	manifest := models.Manifest{
		EmbeddingProvider: b.cfg.EmbedLLM.Provider,
		EmbeddingModel:    b.cfg.EmbedLLM.Model,
		Count:             len(vectors),
		ChunkSize:         b.cfg.RAG.ChunkSize,
		ChunkOverlap:      b.cfg.RAG.ChunkOverlap,
		CreatedAt:         time.Now().UTC(),
	}
	if len(vectors) > 0 {
		manifest.Dimension = len(vectors[0].Embedding)
	}

	if err := b.persist(ctx, vectors, manifest); err != nil {
		return models.Manifest{}, err
	}
	log.Info().
		Int("chunks", manifest.Count).
		Int("dimension", manifest.Dimension).
		Dur("took", time.Since(start)).
		Msg("Index built")
	return manifest, nil
}
