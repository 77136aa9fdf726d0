// Package rag composes the segmenter, the embedding provider, and the vector
// repository into the two pipelines of the system: ingestion (document in,
// searchable chunks out) and answering (question in, grounded answer stream out).
package rag

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/loom/internal/llm"
	"github.com/efebarandurmaz/loom/internal/observability"
	"github.com/efebarandurmaz/loom/internal/segment"
	"github.com/efebarandurmaz/loom/internal/vector"
)

const tracerName = "github.com/efebarandurmaz/loom/internal/rag"

// Policy holds the tunable knobs of both pipelines.
type Policy struct {
	ChunkSize           int
	Overlap             int
	SimilarityThreshold float32
	TopK                int
	MaxDocumentChars    int
}

// DefaultPolicy returns the standard pipeline policy.
func DefaultPolicy() Policy {
	return Policy{
		ChunkSize:           segment.DefaultChunkSize,
		Overlap:             segment.DefaultOverlap,
		SimilarityThreshold: 0.7,
		TopK:                3,
		MaxDocumentChars:    50_000,
	}
}

// Service owns one provider, one repository, and one policy. Each request's
// pipeline state is local to the call, so a Service is safe for concurrent use.
type Service struct {
	provider llm.Provider
	repo     vector.Repository
	policy   Policy
	tracer   trace.Tracer
	metrics  *Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service.
func New(provider llm.Provider, repo vector.Repository, policy Policy, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		repo:     repo,
		policy:   policy,
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// embedText obtains the embedding vector for a single text. Retry and backoff
// live inside the provider; a failure here means the attempt budget is spent.
func (s *Service) embedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.provider.Embed(ctx, []string{text})
	if err != nil {
		return nil, &EmbeddingServiceError{Err: err}
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, &EmbeddingServiceError{Err: errEmptyVector}
	}
	return vecs[0], nil
}

// ListSources returns one summary per ingested source document.
func (s *Service) ListSources(ctx context.Context) ([]vector.SourceSummary, error) {
	summaries, err := s.repo.ListSources(ctx)
	if err != nil {
		return nil, &StoreError{Op: "list sources", Err: err}
	}
	return summaries, nil
}

// DeleteSource removes every chunk ingested from the given source. Deleting a
// source that was never ingested succeeds.
func (s *Service) DeleteSource(ctx context.Context, source string) error {
	if source == "" {
		return errInvalid("source must not be empty")
	}
	if err := s.repo.DeleteBySource(ctx, source); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Metrics counts pipeline activity.
type Metrics struct {
	DocumentsIngested *observability.Counter
	ChunksCreated     *observability.Counter
	IngestSeconds     *observability.Histogram
	AnswersStreamed   *observability.Counter
	AnswerSeconds     *observability.Histogram
	EmptyRetrievals   *observability.Counter
}

// NewMetrics registers the pipeline instruments in reg.
func NewMetrics(reg *observability.MetricsRegistry) *Metrics {
	return &Metrics{
		DocumentsIngested: reg.NewCounter("loom_documents_ingested_total", "Documents successfully ingested", nil),
		ChunksCreated:     reg.NewCounter("loom_chunks_created_total", "Chunk rows written to the vector store", nil),
		IngestSeconds:     reg.NewHistogram("loom_ingest_duration_seconds", "Wall-clock ingestion duration", nil, nil),
		AnswersStreamed:   reg.NewCounter("loom_answers_streamed_total", "Answer streams completed, citations included", nil),
		AnswerSeconds:     reg.NewHistogram("loom_answer_duration_seconds", "Wall-clock answering duration", nil, nil),
		EmptyRetrievals:   reg.NewCounter("loom_empty_retrievals_total", "Questions with no chunk above the similarity threshold", nil),
	}
}
