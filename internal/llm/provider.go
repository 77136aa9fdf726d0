package llm

import "context"

// StreamFunc receives one text increment from a streaming completion. Returning
// an error aborts the stream.
type StreamFunc func(delta string) error

// Provider is the interface all model backends must implement.
type Provider interface {
	// Complete sends a prompt and returns the full completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Stream sends a prompt and invokes fn for each text increment, in order,
	// as it arrives from the model.
	Stream(ctx context.Context, prompt *Prompt, opts *RequestOptions, fn StreamFunc) error
	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}
