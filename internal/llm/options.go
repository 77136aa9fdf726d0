package llm

// RequestOptions tunes a single completion request. Nil fields fall back to
// provider defaults.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}
