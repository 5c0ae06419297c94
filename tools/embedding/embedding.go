package embedding

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/researcher/provider"
)

// DefaultBatchSize bounds how many texts go into one embedding request.
const DefaultBatchSize = 32

type Embedding struct {
	provider  provider.Embedder
	batchSize int
}

type EmbedVec struct {
	DocID string
	Vec   []float32
}

func NewEmbedding(p provider.Embedder, batchSize int) *Embedding {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedding{provider: p, batchSize: batchSize}
}

// EmbedMany embeds texts in batches and returns one vector per input.
func (e *Embedding) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.provider.CreateEmbedding(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedding batch returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedOne embeds a single text.
func (e *Embedding) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
