package router

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Encoder turns texts into embedding vectors, one per input, in input order.
type Encoder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiEncoder embeds texts with the Gemini embedding API.
type GeminiEncoder struct {
	client *genai.Client
	model  string
}

func NewGeminiEncoder(client *genai.Client, embedModel string) *GeminiEncoder {
	return &GeminiEncoder{client: client, model: embedModel}
}

func (e *GeminiEncoder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed content: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("embed content: empty embedding at index %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}

var _ Encoder = (*GeminiEncoder)(nil)
