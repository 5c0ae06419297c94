package knowledge

import (
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/researcher/tools/embedding"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// Index is an in-memory BM25 index over document chunks with optional
// embedding vectors for hybrid search.
type Index struct {
	bleve   bleve.Index
	meta    map[string]DocChunk
	vectors []embedding.EmbedVec // in-memory vectors for small corpora
	mu      sync.RWMutex
}

func NewIndex() (*Index, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{
		bleve: index,
		meta:  make(map[string]DocChunk),
	}, nil
}

func (x *Index) AddChunk(chunk DocChunk) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.meta[chunk.DocID] = chunk
	return x.bleve.Index(chunk.DocID, chunk)
}

func (x *Index) Chunk(docID string) (DocChunk, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	c, ok := x.meta[docID]
	return c, ok
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.meta)
}

func (x *Index) SetVector(docID string, v []float32) {
	if len(v) == 0 {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors = append(x.vectors, embedding.EmbedVec{DocID: docID, Vec: v})
}

func (x *Index) HasVectors() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors) > 0
}

func (x *Index) Close() error { return x.bleve.Close() }

func (x *Index) Bm25Search(q string, k int) ([]SearchHit, error) {
	if strings.TrimSpace(q) == "" || k <= 0 {
		return nil, nil
	}
	query := bleve.NewMatchQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := x.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []SearchHit
	for _, hit := range res.Hits {
		doc, ok := x.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, SearchHit{
			DocID: hit.ID, Path: doc.Path, Title: doc.Title,
			Snippet: doc.Text,
			Score:   hit.Score, Rank: len(out) + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (x *Index) VectorSearch(q []float32, k int) []SearchHit {
	x.mu.RLock()
	defer x.mu.RUnlock()
	type scored struct {
		id    string
		score float64
	}
	scoreds := make([]scored, 0, len(x.vectors))
	for _, v := range x.vectors {
		scoreds = append(scoreds, scored{id: v.DocID, score: cosine(q, v.Vec)})
	}
	sort.SliceStable(scoreds, func(i, j int) bool { return scoreds[i].score > scoreds[j].score })
	var out []SearchHit
	for i, sc := range scoreds {
		doc := x.meta[sc.id]
		out = append(out, SearchHit{
			DocID: sc.id, Path: doc.Path, Title: doc.Title,
			Snippet: doc.Text, Score: sc.score, Rank: i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out
}

// FuseRRF merges ranked lists by reciprocal rank. The fused score replaces
// each hit's score.
func FuseRRF(a, b []SearchHit, k int) []SearchHit {
	type agg struct {
		item  SearchHit
		score float64
	}
	m := map[string]*agg{}
	var order []string
	add := func(list []SearchHit) {
		for _, h := range list {
			x, ok := m[h.DocID]
			if !ok {
				x = &agg{item: h}
				m[h.DocID] = x
				order = append(order, h.DocID)
			}
			x.score += 1.0 / float64(rrfK+h.Rank)
		}
	}
	add(a)
	add(b)
	items := make([]*agg, 0, len(order))
	for _, id := range order {
		items = append(items, m[id])
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	n := min(k, len(items))
	out := make([]SearchHit, 0, n)
	for i := 0; i < n; i++ {
		h := items[i].item
		h.Score = items[i].score
		h.Rank = i + 1
		out = append(out, h)
	}
	return out
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
