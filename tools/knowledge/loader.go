package knowledge

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/mohammad-safakhou/researcher/tools/embedding"
	"github.com/sirupsen/logrus"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var supportedExt = map[string]bool{".pdf": true, ".txt": true, ".md": true}

// Loader reads documents from disk, chunks them and feeds the Index.
type Loader struct {
	index     *Index
	embedder  *embedding.Embedding
	chunkSize int
	overlap   int
	log       *logrus.Entry
}

// NewLoader builds a loader. embedder may be nil, in which case only the BM25
// side of the index is populated.
func NewLoader(index *Index, embedder *embedding.Embedding, chunkSize, overlap int) *Loader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Loader{
		index:     index,
		embedder:  embedder,
		chunkSize: chunkSize,
		overlap:   overlap,
		log:       logrus.WithField("component", "knowledge"),
	}
}

// LoadPaths ingests every supported file under paths. Missing paths and
// unreadable files are skipped and reported.
func (l *Loader) LoadPaths(ctx context.Context, paths []string) (LoadReport, error) {
	var report LoadReport
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					l.log.WithField("path", path).Warn("knowledge base path missing")
					return nil
				}
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !supportedExt[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			text, err := readText(path)
			if err != nil {
				l.log.WithError(err).WithField("path", path).Warn("skipping unreadable document")
				report.Skipped = append(report.Skipped, path)
				return nil
			}
			title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			chunks, embedded, err := l.AddDocument(ctx, DocInput{Path: path, Title: title, Text: text})
			if err != nil {
				return err
			}
			report.Files++
			report.Chunks += chunks
			report.Embedded += embedded
			return nil
		})
		if err != nil {
			return report, fmt.Errorf("load %s: %w", root, err)
		}
	}
	l.log.WithFields(logrus.Fields{
		"files":    report.Files,
		"chunks":   report.Chunks,
		"embedded": report.Embedded,
	}).Info("knowledge base loaded")
	return report, nil
}

// AddDocument chunks doc into the index and returns how many chunks were
// indexed and how many received vectors.
func (l *Loader) AddDocument(ctx context.Context, doc DocInput) (int, int, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return 0, 0, nil
	}
	hash := sha1Hex(doc.Text)
	now := time.Now().UTC()
	parts := makeChunks(doc.Text, l.chunkSize, l.overlap)
	ids := make([]string, 0, len(parts))
	for i, part := range parts {
		chunk := DocChunk{
			DocID:       fmt.Sprintf("%s#%03d", hash, i),
			Path:        doc.Path,
			Title:       doc.Title,
			Text:        part,
			ContentHash: hash,
			ChunkIndex:  i,
			IngestedAt:  now,
		}
		if err := l.index.AddChunk(chunk); err != nil {
			return 0, 0, fmt.Errorf("failed to add chunk: %w", err)
		}
		ids = append(ids, chunk.DocID)
	}

	if l.embedder == nil {
		return len(parts), 0, nil
	}
	vecs, err := l.embedder.EmbedMany(ctx, parts)
	if err != nil {
		l.log.WithError(err).WithField("path", doc.Path).Warn("embedding failed, document is keyword-searchable only")
		return len(parts), 0, nil
	}
	for i, v := range vecs {
		l.index.SetVector(ids[i], v)
	}
	return len(parts), len(vecs), nil
}

func readText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return readPDF(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// makeChunks splits text into windows of approx runes that overlap by overlap runes.
func makeChunks(text string, approx, overlap int) []string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= approx {
		return []string{string(r)}
	}
	var chunks []string
	for start := 0; start < len(r); {
		end := min(start+approx, len(r))
		chunks = append(chunks, string(r[start:end]))
		if end == len(r) {
			break
		}
		start = max(end-overlap, 0)
	}
	return chunks
}
