package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GenerativeAIGenerator implements Generator on the older generative-ai-go
// SDK, for deployments pinned to it.
type GenerativeAIGenerator struct {
	client *genai.Client
	model  string
}

func NewGenerativeAIGenerator(ctx context.Context, apiKey string, modelName string) (*GenerativeAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenerativeAIGenerator{
		client: client,
		model:  modelName,
	}, nil
}

func (g *GenerativeAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.model)
	temp := float32(0.1)
	model.Temperature = &temp

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return CleanFencedOutput(sb.String()), nil
}

// Close releases the underlying client.
func (g *GenerativeAIGenerator) Close() error {
	return g.client.Close()
}
