package models

import (
	"fmt"
	"time"
)

// SourceRecord is one question/answer row of the FAQ table, or a block of
// free text taken from a knowledge document (Question is empty then).
type SourceRecord struct {
	Source   string `json:"source"`
	Row      int    `json:"row"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Text returns the blob that gets chunked for this record.
func (r SourceRecord) Text() string {
	if r.Question == "" {
		return r.Answer
	}
	return fmt.Sprintf("Vraag: %s\nAntwoord: %s", r.Question, r.Answer)
}

// Chunk represents a parsed chunk with provenance
type Chunk struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Row     int    `json:"row"`
	ChunkID int    `json:"chunk_id"`
}

type EmbeddedChunk struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// ScoredChunk is a search hit. Distance is the cosine distance, lower is closer.
type ScoredChunk struct {
	Chunk
	Distance float32 `json:"distance"`
}

// Manifest describes a persisted index.
type Manifest struct {
	FormatVersion     int       `yaml:"format_version"`
	Collection        string    `yaml:"collection"`
	EmbeddingProvider string    `yaml:"embedding_provider"`
	EmbeddingModel    string    `yaml:"embedding_model"`
	Dimension         int       `yaml:"dimension"`
	Count             int       `yaml:"count"`
	ChunkSize         int       `yaml:"chunk_size"`
	ChunkOverlap      int       `yaml:"chunk_overlap"`
	Compressed        bool      `yaml:"compressed"`
	Encrypted         bool      `yaml:"encrypted"`
	CreatedAt         time.Time `yaml:"created_at"`
}

type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Answer struct {
	Query         string        `json:"query"`
	Content       string        `json:"answer"`
	Sources       []ScoredChunk `json:"sources"`
	SessionID     string        `json:"session_id,omitempty"`
	PromptVersion string        `json:"prompt_version"`
}
