package harnessports

import (
	"context"
)

// PromptInput aggregates everything the provider needs to produce a completion.
type PromptInput struct {
	System string            // system instruction
	Turns  []Turn            // ordered conversation, replayed verbatim
	Meta   map[string]string // lightweight metadata for tracing
}

// Options controls model selection, sampling and structured output.
type Options struct {
	Model        string
	MaxNewTokens int
	Temperature  float32
	// ResponseSchema, when set, asks the provider for JSON conforming to it.
	ResponseSchema map[string]any
	SchemaName     string
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text  string
	Raw   any    // raw provider payload for debugging/telemetry
	Usage *Usage // optional usage information
}

// CompletionChunk is one pull from a provider stream. A chunk carrying Err is the
// last value on the channel.
type CompletionChunk struct {
	DeltaText string
	Done      bool
	Usage     *Usage // on final chunk when available
	Err       error
}

// Provider is the abstraction for the generative model backends.
// Stream must close the channel when the stream ends or ctx is cancelled.
type Provider interface {
	Complete(ctx context.Context, in PromptInput, opts Options) (Completion, error)
	Stream(ctx context.Context, in PromptInput, opts Options) (<-chan CompletionChunk, error)
}
