package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/loom/internal/llm"
	"github.com/efebarandurmaz/loom/internal/vector"
)

// CitationMarker separates the free-form answer text from the trailing JSON
// citation payload in the answer byte stream. Answer content is assumed not to
// contain the literal marker.
const CitationMarker = "__CITATIONS__"

// contextDelimiter terminates each retrieved chunk inside the prompt's
// context block.
const contextDelimiter = "\n---\n"

const answerSystemPrompt = "You are a careful assistant. Answer using only the supplied context. " +
	"If the context is insufficient to answer the question, say so explicitly instead of guessing."

// Answer embeds the question, retrieves the most similar chunks, and streams a
// grounded answer to w: free-form text increments as they arrive from the
// model, then a newline, the citation marker, and immediately the JSON-encoded
// match list actually used as context. Nothing follows the JSON array.
//
// When sourceFilter is non-empty, only matches from that source are eligible;
// the filter narrows the already-ranked top-K result, so a question whose best
// matches all come from other sources yields ErrNoRelevantContext.
func (s *Service) Answer(ctx context.Context, question, sourceFilter string, w io.Writer) error {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "rag.answer",
		trace.WithAttributes(attribute.String("loom.source_filter", sourceFilter)))
	defer span.End()

	if strings.TrimSpace(question) == "" {
		return errInvalid("question must not be empty")
	}

	queryVec, err := s.embedText(ctx, question)
	if err != nil {
		span.SetStatus(codes.Error, "question embedding failed")
		return err
	}

	matches, err := s.retrieve(ctx, queryVec, sourceFilter)
	if err != nil {
		if errors.Is(err, ErrNoRelevantContext) && s.metrics != nil {
			s.metrics.EmptyRetrievals.Inc()
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("loom.matches", len(matches)))

	prompt := buildPrompt(question, matches)
	if err := s.provider.Stream(ctx, prompt, nil, func(delta string) error {
		_, werr := io.WriteString(w, delta)
		return werr
	}); err != nil {
		span.SetStatus(codes.Error, "generation stream failed")
		return &GenerationStreamError{Err: err}
	}

	payload, err := json.Marshal(matches)
	if err != nil {
		return &GenerationStreamError{Err: fmt.Errorf("encoding citations: %w", err)}
	}
	if _, err := fmt.Fprintf(w, "\n%s%s", CitationMarker, payload); err != nil {
		return &GenerationStreamError{Err: err}
	}

	if s.metrics != nil {
		s.metrics.AnswersStreamed.Inc()
		s.metrics.AnswerSeconds.Observe(time.Since(start).Seconds())
	}
	return nil
}

// retrieve runs the similarity query under the service policy and applies the
// optional source filter as a post-query narrowing of the ranked candidates.
func (s *Service) retrieve(ctx context.Context, queryVec []float32, sourceFilter string) ([]vector.Match, error) {
	matches, err := s.repo.Search(ctx, queryVec, s.policy.SimilarityThreshold, s.policy.TopK)
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}

	if sourceFilter != "" {
		kept := matches[:0]
		for _, m := range matches {
			if m.Metadata.Source == sourceFilter {
				kept = append(kept, m)
			}
		}
		matches = kept
	}

	if len(matches) == 0 {
		return nil, ErrNoRelevantContext
	}
	return matches, nil
}

// buildPrompt concatenates the matched chunks, each terminated by the context
// delimiter, in store order (descending similarity), then appends the question.
func buildPrompt(question string, matches []vector.Match) *llm.Prompt {
	var block strings.Builder
	for _, m := range matches {
		block.WriteString(m.Content)
		block.WriteString(contextDelimiter)
	}

	return &llm.Prompt{
		SystemPrompt: answerSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("Context:\n%s\nQuestion: %s", block.String(), question),
		}},
	}
}
