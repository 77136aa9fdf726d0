// Package memory implements vector.Repository in process memory. It backs
// tests and local runs that have no Qdrant instance available.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/efebarandurmaz/loom/internal/vector"
)

// Repository is an in-memory vector.Repository with true cosine similarity.
type Repository struct {
	mu   sync.RWMutex
	docs []vector.Document
}

// New creates an empty in-memory repository.
func New() *Repository {
	return &Repository{}
}

func (r *Repository) Upsert(_ context.Context, docs []vector.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, docs...)
	return nil
}

func (r *Repository) Search(_ context.Context, vec []float32, threshold float32, topK int) ([]vector.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []vector.Match
	for _, d := range r.docs {
		sim := cosineSimilarity(vec, d.Vector)
		if sim <= threshold {
			continue
		}
		matches = append(matches, vector.Match{
			Content:    d.Content,
			Metadata:   d.Metadata,
			Similarity: sim,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (r *Repository) ListSources(_ context.Context) ([]vector.SourceSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	groups := make(map[string]*vector.SourceSummary)
	for _, d := range r.docs {
		g, ok := groups[d.Metadata.Source]
		if !ok {
			groups[d.Metadata.Source] = &vector.SourceSummary{
				Source:     d.Metadata.Source,
				ChunkCount: 1,
				CreatedAt:  d.CreatedAt,
			}
			continue
		}
		g.ChunkCount++
		if d.CreatedAt.Before(g.CreatedAt) {
			g.CreatedAt = d.CreatedAt
		}
	}

	summaries := make([]vector.SourceSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, *g)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Source < summaries[j].Source })
	return summaries, nil
}

func (r *Repository) DeleteBySource(_ context.Context, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.docs[:0]
	for _, d := range r.docs {
		if d.Metadata.Source != source {
			kept = append(kept, d)
		}
	}
	r.docs = kept
	return nil
}

func (r *Repository) Close() error { return nil }

// cosineSimilarity returns the cosine of the angle between a and b, clamped to
// [0, 1]. Mismatched or zero-length vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return float32(sim)
}

var _ vector.Repository = (*Repository)(nil)
