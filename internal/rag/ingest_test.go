package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efebarandurmaz/loom/internal/llm"
	"github.com/efebarandurmaz/loom/internal/segment"
	"github.com/efebarandurmaz/loom/internal/vector"
)

// mockProvider is a scripted llm.Provider shared by the pipeline tests.
type mockProvider struct {
	mu          sync.Mutex
	embedCalls  int
	embedErr    error
	embedDelay  func(text string) time.Duration
	vectorFor   func(text string) []float32
	streamCalls int
	streamText  []string
	streamErr   error // returned after streamText is exhausted
	lastPrompt  *llm.Prompt
}

func (m *mockProvider) Complete(_ context.Context, _ *llm.Prompt, _ *llm.RequestOptions) (*llm.Response, error) {
	return &llm.Response{Content: "unused"}, nil
}

func (m *mockProvider) Stream(_ context.Context, prompt *llm.Prompt, _ *llm.RequestOptions, fn llm.StreamFunc) error {
	m.mu.Lock()
	m.streamCalls++
	m.lastPrompt = prompt
	m.mu.Unlock()
	for _, d := range m.streamText {
		if err := fn(d); err != nil {
			return err
		}
	}
	return m.streamErr
}

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	m.mu.Unlock()
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if m.embedDelay != nil {
			time.Sleep(m.embedDelay(t))
		}
		if m.vectorFor != nil {
			out[i] = m.vectorFor(t)
		} else {
			out[i] = []float32{1, 0}
		}
	}
	return out, nil
}

func (m *mockProvider) Name() string { return "mock" }

// mockRepo records writes and serves scripted search results.
type mockRepo struct {
	mu            sync.Mutex
	upserted      []vector.Document
	upsertErr     error
	searchMatches []vector.Match
	searchErr     error
	searchCalls   int
	lastThreshold float32
	lastTopK      int
	deleted       []string
}

func (r *mockRepo) Upsert(_ context.Context, docs []vector.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserted = append(r.upserted, docs...)
	return nil
}

func (r *mockRepo) Search(_ context.Context, _ []float32, threshold float32, topK int) ([]vector.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searchCalls++
	r.lastThreshold = threshold
	r.lastTopK = topK
	return r.searchMatches, r.searchErr
}

func (r *mockRepo) ListSources(_ context.Context) ([]vector.SourceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	groups := map[string]*vector.SourceSummary{}
	for _, d := range r.upserted {
		if g, ok := groups[d.Metadata.Source]; ok {
			g.ChunkCount++
		} else {
			groups[d.Metadata.Source] = &vector.SourceSummary{Source: d.Metadata.Source, ChunkCount: 1, CreatedAt: d.CreatedAt}
		}
	}
	var out []vector.SourceSummary
	for _, g := range groups {
		out = append(out, *g)
	}
	return out, nil
}

func (r *mockRepo) DeleteBySource(_ context.Context, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, source)
	return nil
}

func (r *mockRepo) Close() error { return nil }

func testPolicy() Policy {
	p := DefaultPolicy()
	p.ChunkSize = 20
	p.Overlap = 5
	return p
}

func TestIngest_CreatesOneRowPerChunk(t *testing.T) {
	provider := &mockProvider{}
	repo := &mockRepo{}
	svc := New(provider, repo, testPolicy())

	text := "The quick brown fox. The quick brown fox."
	report, err := svc.Ingest(context.Background(), text, "fox.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunks, _ := segment.Split(text, 20, 5)
	if report.ChunksCreated != len(chunks) {
		t.Errorf("report says %d chunks, segmenter produced %d", report.ChunksCreated, len(chunks))
	}
	if len(repo.upserted) != len(chunks) {
		t.Fatalf("expected %d rows, got %d", len(chunks), len(repo.upserted))
	}

	for i, d := range repo.upserted {
		if d.Content != chunks[i].Text {
			t.Errorf("row %d content %q, want %q", i, d.Content, chunks[i].Text)
		}
		if d.Metadata.ChunkIndex != i {
			t.Errorf("row %d has chunk_index %d", i, d.Metadata.ChunkIndex)
		}
		if d.Metadata.TotalChunks != len(chunks) {
			t.Errorf("row %d has total_chunks %d, want %d", i, d.Metadata.TotalChunks, len(chunks))
		}
		if d.Metadata.Source != "fox.txt" {
			t.Errorf("row %d has source %q", i, d.Metadata.Source)
		}
		if d.ID == "" {
			t.Errorf("row %d missing id", i)
		}
	}

	summaries, err := svc.ListSources(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ChunkCount != len(chunks) {
		t.Errorf("expected one summary with chunk_count %d, got %v", len(chunks), summaries)
	}
}

func TestIngest_OutOfOrderEmbeddingsKeepChunkOrder(t *testing.T) {
	// The first chunks embed slowest, so completions arrive in reverse order;
	// the written rows must still pair each vector with its own chunk.
	provider := &mockProvider{
		embedDelay: func(text string) time.Duration {
			return time.Duration(len(text)) * time.Millisecond
		},
		vectorFor: func(text string) []float32 {
			return []float32{float32(len(text)), float32(text[0])}
		},
	}
	repo := &mockRepo{}
	svc := New(provider, repo, testPolicy())

	text := "aaaaaaaaaaaaaaaaaaaabbbbbcccccdddddeeeee"
	if _, err := svc.Ingest(context.Background(), text, "order.txt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, d := range repo.upserted {
		want := provider.vectorFor(d.Content)
		if d.Vector[0] != want[0] || d.Vector[1] != want[1] {
			t.Errorf("row %d vector %v not paired with its chunk %q", i, d.Vector, d.Content)
		}
	}
}

func TestIngest_EmbeddingFailureAbortsBatch(t *testing.T) {
	provider := &mockProvider{embedErr: errors.New("upstream down")}
	repo := &mockRepo{}
	svc := New(provider, repo, testPolicy())

	_, err := svc.Ingest(context.Background(), "some document text", "doc.txt")
	var embedErr *EmbeddingServiceError
	if !errors.As(err, &embedErr) {
		t.Fatalf("expected EmbeddingServiceError, got %v", err)
	}
	if len(repo.upserted) != 0 {
		t.Errorf("no rows may be written on failure, got %d", len(repo.upserted))
	}
}

func TestIngest_StoreFailure(t *testing.T) {
	provider := &mockProvider{}
	repo := &mockRepo{upsertErr: errors.New("connection refused")}
	svc := New(provider, repo, testPolicy())

	_, err := svc.Ingest(context.Background(), "some document text", "doc.txt")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		source string
	}{
		{"empty_text", "", "doc.txt"},
		{"empty_source", "some text", ""},
		{"oversize", strings.Repeat("a", 51_000), "big.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{}
			svc := New(provider, &mockRepo{}, DefaultPolicy())

			_, err := svc.Ingest(context.Background(), tt.text, tt.source)
			if !errors.Is(err, ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
			if provider.embedCalls != 0 {
				t.Error("validation failures must not reach the embedding service")
			}
		})
	}
}

func TestDeleteSource_NeverIngestedIsNoOp(t *testing.T) {
	repo := &mockRepo{}
	svc := New(&mockProvider{}, repo, DefaultPolicy())

	if err := svc.DeleteSource(context.Background(), "ghost.txt"); err != nil {
		t.Errorf("expected no-op delete to succeed, got %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != "ghost.txt" {
		t.Errorf("delete not forwarded to the store: %v", repo.deleted)
	}
}
