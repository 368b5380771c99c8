package knowledge

import (
	"context"
)

// Generator is a reasoning provider: one prompt in, raw text out. Every
// response is untrusted and must pass through a deterministic gate before the
// pipeline acts on it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
