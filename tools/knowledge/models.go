package knowledge

import "time"

type DocChunk struct {
	DocID       string    `json:"doc_id"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	ContentHash string    `json:"content_hash"`
	ChunkIndex  int       `json:"chunk_index"`
	IngestedAt  time.Time `json:"ingested_at"`
}

type DocInput struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

type SearchHit struct {
	DocID   string  `json:"doc_id"`
	Path    string  `json:"path"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// LoadReport summarises a LoadPaths run.
type LoadReport struct {
	Files    int      `json:"files"`
	Chunks   int      `json:"chunks"`
	Embedded int      `json:"embedded"`
	Skipped  []string `json:"skipped,omitempty"`
}
