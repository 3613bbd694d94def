package parser

import (
	"fmt"
	"strings"

	"swap-assistant/internal/models"
)

// ChunkContent slices content into windows of chunkSize characters, each
// starting chunkSize-overlap characters after the previous one. The last
// chunk may be shorter. Windows are counted in runes, never splitting a
// multi-byte character.
func ChunkContent(content string, chunkSize, overlap int) ([]string, error) {
	if err := validateChunking(chunkSize, overlap); err != nil {
		return nil, err
	}
	runes := []rune(content)
	if len(runes) == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := min(start+chunkSize, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks, nil
}

func validateChunking(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be > 0, got %d", models.ErrInvalidConfiguration, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", models.ErrInvalidConfiguration, chunkSize, overlap)
	}
	return nil
}

// MergeChunks rebuilds the text ChunkContent was given, dropping the
// overlapping prefix of every chunk after the first.
func MergeChunks(chunks []string, overlap int) string {
	var content strings.Builder
	for i, chunk := range chunks {
		if i == 0 {
			content.WriteString(chunk)
			continue
		}
		runes := []rune(chunk)
		if len(runes) > overlap {
			content.WriteString(string(runes[overlap:]))
		}
	}
	return content.String()
}

// ChunkRecords chunks every record and stamps each chunk with its provenance.
// Chunk IDs are sequential across the whole run so they stay stable for a
// given input.
func ChunkRecords(records []models.SourceRecord, chunkSize, overlap int) ([]models.Chunk, error) {
	if err := validateChunking(chunkSize, overlap); err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	for _, record := range records {
		parts, err := ChunkContent(record.Text(), chunkSize, overlap)
		if err != nil {
			return nil, err
		}
		for i, part := range parts {
			chunks = append(chunks, models.Chunk{
				ID:      fmt.Sprintf("chunk-%06d", len(chunks)),
				Content: part,
				Source:  record.Source,
				Row:     record.Row,
				ChunkID: i + 1,
			})
		}
	}
	return chunks, nil
}
