// Package vectorprovider implements cache.EmbeddingProvider against Vertex
// AI: the upstream embedding call an EmbeddingCache miss falls through to.
package vectorprovider

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// VertexAI embeds text with a Vertex AI embedding model.
type VertexAI struct {
	client *genai.Client
	model  string
}

// NewVertexAI creates a VertexAI provider for the given project/location,
// using a model such as "text-embedding-004".
func NewVertexAI(ctx context.Context, project, location, model string) (*VertexAI, error) {
	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("vectorprovider.NewVertexAI: %w", err)
	}
	return &VertexAI{client: client, model: model}, nil
}

// Embed implements cache.EmbeddingProvider. Rate-limit responses are retried
// with backoff before surfacing an error.
func (v *VertexAI) Embed(ctx context.Context, text string) ([]float32, error) {
	values, err := withRetry(ctx, "vectorprovider.VertexAI.Embed", func() ([]float32, error) {
		em := v.client.EmbeddingModel(v.model)
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, err
		}
		if res.Embedding == nil {
			return nil, fmt.Errorf("empty response for model %s", v.model)
		}
		return res.Embedding.Values, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorprovider.VertexAI.Embed: %w", err)
	}
	return values, nil
}

func (v *VertexAI) Close() error {
	return v.client.Close()
}
