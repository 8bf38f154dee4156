package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/lazypower/mnemo/internal/sector"
)

// GeminiEmbedder embeds through the Gemini API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiEmbedder creates a Gemini API client for embeddings.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dims int) (*GeminiEmbedder, error) {
	if model == "" {
		model = "text-embedding-004"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dims: dims}, nil
}

func (g *GeminiEmbedder) Model() string  { return "gemini:" + g.model }
func (g *GeminiEmbedder) Dimensions() int { return g.dims }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string, _ sector.Sector) (Vector, error) {
	dims := int32(g.dims)
	resp, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini returned no embeddings")
	}
	return resp.Embeddings[0].Values, nil
}
