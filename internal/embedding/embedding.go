// Package embedding wraps the Genkit embedder behind the fixed vector
// geometry the datastore schema expects.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// VectorDimension is the embedding width stored in pgvector columns.
// gemini-embedding-001 defaults to 3072 dimensions; we request 768 to
// match the amenities and policies schema.
const VectorDimension int32 = 768

// embedTimeout bounds a single embedding call.
const embedTimeout = 15 * time.Second

// Embedder generates fixed-width query embeddings.
type Embedder struct {
	embedder ai.Embedder
}

// New creates an Embedder around a Genkit ai.Embedder.
func New(embedder ai.Embedder) (*Embedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Embedder{embedder: embedder}, nil
}

// Embed returns the vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	if text == "" {
		return pgvector.Vector{}, fmt.Errorf("text is required")
	}

	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	dim := VectorDimension
	resp, err := e.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != int(VectorDimension) {
		return pgvector.Vector{}, fmt.Errorf("embedding has %d dimensions, want %d", len(vec), VectorDimension)
	}
	return pgvector.NewVector(vec), nil
}
