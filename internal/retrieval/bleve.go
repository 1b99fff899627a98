package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

// BleveRetriever serves retrieval from a local full-text index. It
// backs evaluation and development setups where no Postgres is
// available; scoring is lexical rather than vector-based but the
// contract is the same.
type BleveRetriever struct {
	index bleve.Index
}

// NewBleveRetriever opens the index at path, creating it when absent.
// With an empty path the index lives in memory only.
func NewBleveRetriever(path string) (*BleveRetriever, error) {
	mapping := bleve.NewIndexMapping()
	if path == "" {
		idx, err := bleve.NewMemOnly(mapping)
		if err != nil {
			return nil, fmt.Errorf("bleve memory index: %w", err)
		}
		return &BleveRetriever{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, mapping)
	}
	if err != nil {
		return nil, fmt.Errorf("bleve index %s: %w", path, err)
	}
	return &BleveRetriever{index: idx}, nil
}

func (r *BleveRetriever) Close() error { return r.index.Close() }

// IndexPassages adds corpus chunks to the index in one batch.
func (r *BleveRetriever) IndexPassages(passages []core.Passage) error {
	batch := r.index.NewBatch()
	for _, p := range passages {
		id := p.Source + "|" + p.ChunkID
		doc := map[string]interface{}{
			"content":  p.Content,
			"source":   p.Source,
			"page":     p.Page,
			"chunk_id": p.ChunkID,
		}
		if err := batch.Index(id, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", id, err)
		}
	}
	return r.index.Batch(batch)
}

// LoadCorpus reads a pre-chunked passages JSON file and indexes it.
func (r *BleveRetriever) LoadCorpus(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}
	var passages []core.Passage
	if err := json.Unmarshal(b, &passages); err != nil {
		return fmt.Errorf("parse corpus: %w", err)
	}
	return r.IndexPassages(passages)
}

func (r *BleveRetriever) Retrieve(ctx context.Context, query string, k int) ([]core.Passage, error) {
	if k <= 0 {
		k = 3
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), k, 0, false)
	req.Fields = []string{"content", "source", "page", "chunk_id"}

	res, err := r.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	var passages []core.Passage
	for _, hit := range res.Hits {
		p := core.Passage{
			Content: stringField(hit.Fields, "content"),
			Source:  stringField(hit.Fields, "source"),
			ChunkID: stringField(hit.Fields, "chunk_id"),
		}
		if page, ok := hit.Fields["page"].(float64); ok {
			p.Page = int(page)
		}
		passages = append(passages, p)
	}
	return passages, nil
}

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}
