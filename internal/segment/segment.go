// Package segment splits document text into fixed-size overlapping chunks.
package segment

import (
	"errors"
	"fmt"
)

// Default chunking policy, in character units.
const (
	DefaultChunkSize = 500
	DefaultOverlap   = 50
)

// ErrInvalidParameter reports a chunking parameter violation.
var ErrInvalidParameter = errors.New("invalid segmenter parameter")

// Chunk is one contiguous slice of a source document. Index is the chunk's
// 0-based position within the document's chunk sequence.
type Chunk struct {
	Text  string
	Index int
}

// Split cuts text into chunks of chunkSize characters, each chunk starting
// chunkSize-overlap characters after the previous one. The final chunk may be
// shorter. Boundaries are purely positional; identical inputs always yield an
// identical sequence.
func Split(text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidParameter, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidParameter, chunkSize, overlap)
	}

	runes := []rune(text)
	step := chunkSize - overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Text:  string(runes[start:end]),
			Index: len(chunks),
		})
	}
	return chunks, nil
}
