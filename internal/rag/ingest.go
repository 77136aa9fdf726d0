package rag

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/loom/internal/segment"
	"github.com/efebarandurmaz/loom/internal/vector"
)

// IngestReport summarizes one successful ingestion.
type IngestReport struct {
	ChunksCreated int
	Elapsed       time.Duration
}

// Ingest turns raw document text into persisted, searchable chunks: validate,
// segment, embed every chunk concurrently, then write all rows as one batch.
// Any failure aborts the whole document with zero rows written; the pipeline
// itself is never retried.
func (s *Service) Ingest(ctx context.Context, text, source string) (*IngestReport, error) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "rag.ingest",
		trace.WithAttributes(attribute.String("loom.source", source)))
	defer span.End()

	if source == "" {
		return nil, errInvalid("source must not be empty")
	}
	if text == "" {
		return nil, errInvalid("document text must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > s.policy.MaxDocumentChars {
		return nil, fmt.Errorf("%w: document is %d characters, limit is %d", ErrInvalidParameter, n, s.policy.MaxDocumentChars)
	}

	chunks, err := segment.Split(text, s.policy.ChunkSize, s.policy.Overlap)
	if err != nil {
		return nil, errInvalid(err.Error())
	}

	// Fan out one embedding call per chunk; fan in before writing. Results
	// land at their chunk's index, so out-of-order completion cannot reorder
	// the rows.
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			vec, err := s.embedText(gctx, chunk.Text)
			if err != nil {
				return err
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, "embedding failed")
		return nil, err
	}

	now := time.Now().UTC()
	docs := make([]vector.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vector.Document{
			ID:      uuid.NewString(),
			Content: chunk.Text,
			Vector:  vectors[i],
			Metadata: vector.Metadata{
				Source:      source,
				ChunkIndex:  chunk.Index,
				TotalChunks: len(chunks),
			},
			CreatedAt: now,
		}
	}

	if err := s.repo.Upsert(ctx, docs); err != nil {
		span.SetStatus(codes.Error, "store write failed")
		return nil, &StoreError{Op: "insert", Err: err}
	}

	report := &IngestReport{ChunksCreated: len(docs), Elapsed: time.Since(start)}
	span.SetAttributes(attribute.Int("loom.chunks_created", report.ChunksCreated))
	if s.metrics != nil {
		s.metrics.DocumentsIngested.Inc()
		s.metrics.ChunksCreated.Add(float64(report.ChunksCreated))
		s.metrics.IngestSeconds.Observe(report.Elapsed.Seconds())
	}
	return report, nil
}
