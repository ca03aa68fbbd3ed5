// Package llm defines the ports for the external classifier and embedding
// encoder. Both are text-in collaborators; neither contract names a model.
package llm

import "context"

// Classifier sends a system and user prompt and returns the raw completion.
type Classifier interface {
	Classify(ctx context.Context, system, prompt string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, system, prompt string) (string, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}
