package knowledge

import (
	"context"

	"github.com/mohammad-safakhou/researcher/models"
	"github.com/mohammad-safakhou/researcher/tools/embedding"
	"github.com/sirupsen/logrus"
)

// Searcher answers knowledge base queries with BM25, fused with vector
// similarity when the index carries embeddings.
type Searcher struct {
	index    *Index
	embedder *embedding.Embedding
	log      *logrus.Entry
}

func NewSearcher(index *Index, embedder *embedding.Embedding) *Searcher {
	return &Searcher{index: index, embedder: embedder, log: logrus.WithField("component", "knowledge")}
}

func (s *Searcher) Hits(ctx context.Context, q string, k int) ([]SearchHit, error) {
	bmHits, err := s.index.Bm25Search(q, k)
	if err != nil {
		return nil, err
	}
	if s.embedder == nil || !s.index.HasVectors() {
		return bmHits, nil
	}
	qvec, err := s.embedder.EmbedOne(ctx, q)
	if err != nil {
		s.log.WithError(err).Warn("query embedding failed, using keyword hits only")
		return bmHits, nil
	}
	vecHits := s.index.VectorSearch(qvec, k)
	return FuseRRF(bmHits, vecHits, k), nil
}

// Search implements the retrieval searcher contract.
func (s *Searcher) Search(ctx context.Context, q string, k int) ([]models.Source, error) {
	hits, err := s.Hits(ctx, q, k)
	if err != nil {
		return nil, err
	}
	out := make([]models.Source, 0, len(hits))
	for _, h := range hits {
		score := h.Score
		out = append(out, models.Source{
			Type:    models.ProviderKnowledgeBase,
			Title:   h.Title,
			Source:  h.Path,
			Content: h.Snippet,
			Score:   &score,
		})
	}
	return out, nil
}
