package rag

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions the caller is expected to branch on.
var (
	// ErrInvalidParameter reports bad caller input. It is never retried and is
	// raised before any network call is made.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoRelevantContext means no stored chunk cleared the similarity
	// threshold for a question. Distinct from a store fault: the usual remedy
	// is rephrasing the question or ingesting more material.
	ErrNoRelevantContext = errors.New("no relevant context found")
)

// errEmptyVector is the residual case of a provider response that parsed but
// carried no vector; the retry layer normally catches this first.
var errEmptyVector = errors.New("response carried no embedding vector")

func errInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, msg)
}

// EmbeddingServiceError reports an embedding call that failed after its retry
// budget was exhausted. It carries the last upstream error.
type EmbeddingServiceError struct {
	Err error
}

func (e *EmbeddingServiceError) Error() string { return "embedding service: " + e.Err.Error() }
func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// StoreError reports a persistence or query failure in the vector store. Store
// faults are surfaced immediately, never retried at this layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "vector store " + e.Op + ": " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// GenerationStreamError reports a mid-stream failure from the generative
// model. Whatever text already streamed stays with the consumer; no citation
// payload follows it.
type GenerationStreamError struct {
	Err error
}

func (e *GenerationStreamError) Error() string { return "generation stream: " + e.Err.Error() }
func (e *GenerationStreamError) Unwrap() error { return e.Err }
