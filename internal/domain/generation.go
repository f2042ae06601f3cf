package domain

import "context"

// GenerateOptions selects the provider and sampling for one generation call.
type GenerateOptions struct {
	Provider     string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Generation is a completed answer from a language model.
type Generation struct {
	Text             string
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Chunk is one piece of a streamed generation. The last chunk has Done set
// (and Err set when the stream failed).
type Chunk struct {
	Text string
	Err  error
	Done bool
}

// Generator is the answer generation contract shared by all providers.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Generation, error)
	Stream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan Chunk, error)
}

// CrossEncoder scores (query, document) pairs. Output order matches input order.
type CrossEncoder interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}
