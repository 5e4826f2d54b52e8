package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"google.golang.org/genai"
)

type fakeEmbedder struct {
	vec     []float32
	err     error
	lastReq *ai.EmbedRequest
}

func (f *fakeEmbedder) Name() string { return "fake/embedder" }

func (f *fakeEmbedder) Register(api.Registry) {}

func (f *fakeEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: f.vec}},
	}, nil
}

func fullVector() []float32 {
	return make([]float32, VectorDimension)
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	fake := &fakeEmbedder{vec: fullVector()}
	e, err := New(fake)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := e.Embed(context.Background(), "airport coffee")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := len(vec.Slice()); got != int(VectorDimension) {
		t.Fatalf("Embed returned %d dimensions, want %d", got, VectorDimension)
	}

	opts, ok := fake.lastReq.Options.(*genai.EmbedContentConfig)
	if !ok {
		t.Fatalf("Embed options = %T, want *genai.EmbedContentConfig", fake.lastReq.Options)
	}
	if opts.OutputDimensionality == nil || *opts.OutputDimensionality != VectorDimension {
		t.Errorf("OutputDimensionality = %v, want %d", opts.OutputDimensionality, VectorDimension)
	}
}

func TestEmbedEmptyText(t *testing.T) {
	t.Parallel()

	e, err := New(&fakeEmbedder{vec: fullVector()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Embed(context.Background(), ""); err == nil {
		t.Fatal("Embed(\"\") should fail")
	}
}

func TestEmbedWrongDimension(t *testing.T) {
	t.Parallel()

	e, err := New(&fakeEmbedder{vec: make([]float32, 10)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Embed(context.Background(), "text"); err == nil {
		t.Fatal("Embed with wrong dimension should fail")
	}
}

func TestEmbedUpstreamError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("quota exceeded")
	e, err := New(&fakeEmbedder{err: wantErr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Embed(context.Background(), "text"); !errors.Is(err, wantErr) {
		t.Fatalf("Embed error = %v, want %v", err, wantErr)
	}
}

func TestNewNilEmbedder(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Fatal("New(nil) should fail")
	}
}
