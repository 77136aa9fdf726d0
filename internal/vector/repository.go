// Package vector defines the stored-chunk model and the similarity-search
// repository interface the pipelines program against.
package vector

import (
	"context"
	"time"
)

// Metadata ties a stored chunk back to its source document.
type Metadata struct {
	Source      string `json:"source"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
}

// Document is one persisted chunk row: the chunk text, its embedding, and the
// metadata stamped at ingestion time. Rows are never updated in place.
type Document struct {
	ID        string
	Content   string
	Vector    []float32
	Metadata  Metadata
	CreatedAt time.Time
}

// Match is a single result from a similarity search. Similarity is cosine
// similarity normalized to [0, 1], 1 meaning identical direction.
type Match struct {
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
	Similarity float32  `json:"similarity"`
}

// SourceSummary aggregates the rows sharing one metadata source: how many
// chunks it produced and when the earliest of them was stored.
type SourceSummary struct {
	Source     string    `json:"source"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repository provides chunk storage and similarity search. Implementations own
// persistence; callers hold only transient copies of what they read.
type Repository interface {
	// Upsert inserts all documents as one batch. Either the whole batch is
	// visible afterward or none of it is.
	Upsert(ctx context.Context, docs []Document) error
	// Search returns at most topK matches whose similarity exceeds threshold,
	// ordered by descending similarity.
	Search(ctx context.Context, vector []float32, threshold float32, topK int) ([]Match, error)
	// ListSources groups stored rows by source.
	ListSources(ctx context.Context) ([]SourceSummary, error)
	// DeleteBySource removes every row for the given source. Deleting a source
	// with no rows is a no-op, not an error.
	DeleteBySource(ctx context.Context, source string) error
	// Close releases resources.
	Close() error
}
