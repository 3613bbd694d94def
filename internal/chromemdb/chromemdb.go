package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"swap-assistant/internal/models"
)

const (
	manifestFile = "manifest.yaml"

	metaSource  = "source"
	metaRow     = "row"
	metaChunkID = "chunk_id"
)

// Options controls how a collection is written to disk.
type Options struct {
	Collection    string
	Compress      bool
	EncryptionKey string
}

// VectorDBManager owns one immutable chromem-go collection. It is safe for
// concurrent searches once loaded.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	manifest   models.Manifest
}

// noEmbedding keeps chromem from calling its default OpenAI embedder: every
// vector is computed by the caller.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("embeddings must be supplied by the caller")
}

func collectionFile(dir string, opts Options) string {
	name := opts.Collection + ".gob"
	if opts.Compress {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}

// Save writes chunks and their vectors to dir, replacing whatever index was
// there. Chunks are stored under ChunkID(position). The new index is
// assembled in a sibling temp dir first so a failed write leaves the previous
// index intact.
func Save(ctx context.Context, dir string, chunks []models.EmbeddedChunk, manifest models.Manifest, opts Options) error {
	if opts.Collection == "" {
		return fmt.Errorf("%w: collection name is required", models.ErrInvalidConfiguration)
	}

	db := chromem.NewDB()
	c, err := db.CreateCollection(opts.Collection, map[string]string{
		"embedding_model": manifest.EmbeddingModel,
	}, noEmbedding)
	if err != nil {
		return fmt.Errorf("%w: failed to create collection: %v", models.ErrPersistence, err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:      ChunkID(i),
			Content: ch.Content,
			Metadata: map[string]string{
				metaSource:  ch.Source,
				metaRow:     strconv.Itoa(ch.Row),
				metaChunkID: strconv.Itoa(ch.ChunkID),
			},
			// chromem normalises in place, keep the caller's slice untouched
			Embedding: append([]float32(nil), ch.Embedding...),
		}
	}
	if len(docs) > 0 {
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("%w: failed to add documents: %v", models.ErrPersistence, err)
		}
	}

	manifest.FormatVersion = models.ManifestVersion
	manifest.Collection = opts.Collection
	manifest.Count = len(chunks)
	manifest.Compressed = opts.Compress
	manifest.Encrypted = opts.EncryptionKey != ""
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}

	parent := filepath.Dir(filepath.Clean(dir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+"-*")
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	defer os.RemoveAll(tmp)

	log.Debug().Str("collection", opts.Collection).Str("dir", dir).Bool("compress", opts.Compress).Msg("Exporting collection")
	if err := db.ExportToFile(collectionFile(tmp, opts), opts.Compress, opts.EncryptionKey, opts.Collection); err != nil {
		return fmt.Errorf("%w: failed to export database: %v", models.ErrPersistence, err)
	}
	if err := writeManifest(filepath.Join(tmp, manifestFile), manifest); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: failed to remove old index: %v", models.ErrPersistence, err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("%w: failed to move index into place: %v", models.ErrPersistence, err)
	}
	return nil
}

func writeManifest(path string, manifest models.Manifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadManifest reads the manifest of the index stored in dir.
func ReadManifest(dir string) (models.Manifest, error) {
	var manifest models.Manifest
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return manifest, fmt.Errorf("%w: %s", models.ErrIndexNotFound, dir)
	}
	if err != nil {
		return manifest, fmt.Errorf("%w: %v", models.ErrIndexCorrupt, err)
	}
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return manifest, fmt.Errorf("%w: manifest: %v", models.ErrIndexCorrupt, err)
	}
	if manifest.FormatVersion != models.ManifestVersion {
		return manifest, fmt.Errorf("%w: unsupported format version %d", models.ErrIndexCorrupt, manifest.FormatVersion)
	}
	if manifest.Collection == "" || manifest.Count < 0 || (manifest.Count > 0 && manifest.Dimension <= 0) {
		return manifest, fmt.Errorf("%w: incomplete manifest", models.ErrIndexCorrupt)
	}
	return manifest, nil
}

// Load imports the index stored in dir and checks every stored vector against
// the manifest dimension. This is a one-time cost paid at startup.
func Load(ctx context.Context, dir, encryptionKey string) (*VectorDBManager, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, dir)
	}
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	opts := Options{Collection: manifest.Collection, Compress: manifest.Compressed}
	file := collectionFile(dir, opts)
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrIndexNotFound, file)
	}
	if manifest.Encrypted && encryptionKey == "" {
		return nil, fmt.Errorf("%w: index is encrypted but no key is configured", models.ErrInvalidConfiguration)
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(file, encryptionKey, manifest.Collection); err != nil {
		return nil, fmt.Errorf("%w: failed to import database: %v", models.ErrIndexCorrupt, err)
	}
	c := db.GetCollection(manifest.Collection, noEmbedding)
	if c == nil {
		if manifest.Count > 0 {
			return nil, fmt.Errorf("%w: collection %q missing from export", models.ErrIndexCorrupt, manifest.Collection)
		}
		// an export without documents may come back without its collection
		c, err = db.GetOrCreateCollection(manifest.Collection, nil, noEmbedding)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrIndexCorrupt, err)
		}
	}
	if c.Count() != manifest.Count {
		return nil, fmt.Errorf("%w: manifest lists %d chunks, collection holds %d", models.ErrIndexCorrupt, manifest.Count, c.Count())
	}

	m := &VectorDBManager{db: db, collection: c, manifest: manifest}
	if err := m.checkDimensions(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("collection", manifest.Collection).
		Int("chunks", manifest.Count).
		Int("dimension", manifest.Dimension).
		Str("embedding_model", manifest.EmbeddingModel).
		Msg("Loaded vector index")
	return m, nil
}

func (m *VectorDBManager) checkDimensions(ctx context.Context) error {
	for i := 0; i < m.manifest.Count; i++ {
		id := ChunkID(i)
		doc, err := m.collection.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", models.ErrIndexCorrupt, id, err)
		}
		if len(doc.Embedding) != m.manifest.Dimension {
			return fmt.Errorf("%w: %s has %d dimensions, index declares %d",
				models.ErrEmbeddingDimensionMismatch, id, len(doc.Embedding), m.manifest.Dimension)
		}
	}
	return nil
}

// ChunkID is the ID of the i-th chunk of an index.
func ChunkID(i int) string {
	return fmt.Sprintf("chunk-%06d", i)
}

func (m *VectorDBManager) Manifest() models.Manifest {
	return m.manifest
}

func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// Search returns at most k chunks closest to vector, nearest first. Ties are
// ordered by chunk ID so repeated queries give identical results.
func (m *VectorDBManager) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be > 0, got %d", models.ErrInvalidConfiguration, k)
	}
	count := m.collection.Count()
	if count == 0 {
		return []models.ScoredChunk{}, nil
	}
	if len(vector) != m.manifest.Dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			models.ErrEmbeddingDimensionMismatch, len(vector), m.manifest.Dimension)
	}

	// chromem normalises the query in place
	query := append([]float32(nil), vector...)
	results, err := m.collection.QueryEmbedding(ctx, query, min(k, count), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	scored := make([]models.ScoredChunk, len(results))
	for i, r := range results {
		row, _ := strconv.Atoi(r.Metadata[metaRow])
		chunkID, _ := strconv.Atoi(r.Metadata[metaChunkID])
		scored[i] = models.ScoredChunk{
			Chunk: models.Chunk{
				ID:      r.ID,
				Content: r.Content,
				Source:  r.Metadata[metaSource],
				Row:     row,
				ChunkID: chunkID,
			},
			Distance: 1 - r.Similarity,
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Distance != scored[j].Distance {
			return scored[i].Distance < scored[j].Distance
		}
		return scored[i].ID < scored[j].ID
	})
	return scored, nil
}
