package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"swap-assistant/internal/config"
	"swap-assistant/internal/models"
)

// Document is one chunk row. The embedding column is an unconstrained pgvector
// so the dimension check happens at load time, like the file backend.
type Document struct {
	bun.BaseModel `bun:"table:faq_chunks,alias:d"`
	ID            string  `bun:"id,pk"`
	Position      int     `bun:"position,notnull"`
	Content       string  `bun:"content,notnull"`
	Source        string  `bun:"source"`
	Row           int     `bun:"source_row"`
	ChunkID       int     `bun:"chunk_id"`
	Embedding     Vector  `bun:"embedding,notnull,type:vector"`
	Distance      float32 `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with either bun's pgdriver (default) or lib/pq.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "", "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	case "postgres", "pq":
		return sql.Open("postgres", cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", models.ErrInvalidConfiguration, cfg.Driver)
	}
}

// ReplaceDocuments swaps the whole table contents for docs in one
// transaction, so readers never see a half-built index.
func ReplaceDocuments(ctx context.Context, db *bun.DB, cfg *config.DatabaseConfig, docs []models.EmbeddedChunk) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: enable pgvector: %v", models.ErrPersistence, err)
	}

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS ?", bun.Ident(cfg.Table)); err != nil {
			return err
		}
		if _, err := tx.NewCreateTable().Model((*Document)(nil)).ModelTableExpr("?", bun.Ident(cfg.Table)).Exec(ctx); err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		rows := make([]Document, len(docs))
		for i, d := range docs {
			rows[i] = Document{
				ID:        d.ID,
				Position:  i,
				Content:   d.Content,
				Source:    d.Source,
				Row:       d.Row,
				ChunkID:   d.ChunkID,
				Embedding: Vector(d.Embedding),
			}
		}
		_, err := tx.NewInsert().Model(&rows).ModelTableExpr("?", bun.Ident(cfg.Table)).Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

// Store serves searches from the pgvector table.
type Store struct {
	db        *bun.DB
	table     string
	dimension int
	count     int
}

// Open verifies the table exists and that all stored vectors share one
// dimension.
func Open(ctx context.Context, db *bun.DB, cfg *config.DatabaseConfig) (*Store, error) {
	var exists bool
	err := db.NewRaw("SELECT to_regclass(?) IS NOT NULL", cfg.Table).Scan(ctx, &exists)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexCorrupt, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: table %s", models.ErrIndexNotFound, cfg.Table)
	}

	var dims []int
	err = db.NewRaw("SELECT DISTINCT vector_dims(embedding) FROM ?", bun.Ident(cfg.Table)).Scan(ctx, &dims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexCorrupt, err)
	}
	if len(dims) > 1 {
		sort.Ints(dims)
		return nil, fmt.Errorf("%w: table %s mixes dimensions %v", models.ErrEmbeddingDimensionMismatch, cfg.Table, dims)
	}

	count, err := db.NewSelect().Model((*Document)(nil)).ModelTableExpr("? AS d", bun.Ident(cfg.Table)).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrIndexCorrupt, err)
	}

	s := &Store{db: db, table: cfg.Table, count: count}
	if len(dims) == 1 {
		s.dimension = dims[0]
	}
	log.Info().Str("table", cfg.Table).Int("chunks", count).Int("dimension", s.dimension).Msg("Opened pgvector index")
	return s, nil
}

func (s *Store) Count() int {
	return s.count
}

// Search orders by cosine distance, ties broken by insertion position.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be > 0, got %d", models.ErrInvalidConfiguration, k)
	}
	if s.count == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			models.ErrEmbeddingDimensionMismatch, len(vector), s.dimension)
	}

	var docs []Document
	err := s.db.NewSelect().
		Model(&docs).
		ModelTableExpr("? AS d", bun.Ident(s.table)).
		Column("id", "content", "source", "source_row", "chunk_id").
		ColumnExpr("embedding <=> ? AS distance", Vector(vector)).
		OrderExpr("distance ASC, position ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	results := make([]models.ScoredChunk, len(docs))
	for i, d := range docs {
		results[i] = models.ScoredChunk{
			Chunk: models.Chunk{
				ID:      d.ID,
				Content: d.Content,
				Source:  d.Source,
				Row:     d.Row,
				ChunkID: d.ChunkID,
			},
			Distance: d.Distance,
		}
	}
	return results, nil
}
