package retrieval

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
	"github.com/mohammad-safakhou/carebrief/internal/store"
)

// PassageSearcher is the slice of the store the retriever needs.
type PassageSearcher interface {
	SearchPassages(ctx context.Context, vector []float32, k int) ([]core.Passage, error)
}

var _ PassageSearcher = (*store.Store)(nil)

// PgvectorRetriever answers nearest-neighbour queries by embedding the
// query text and searching the pgvector passages table.
type PgvectorRetriever struct {
	searcher PassageSearcher
	embedder core.LLMProvider
	model    string
}

func NewPgvectorRetriever(searcher PassageSearcher, embedder core.LLMProvider, embeddingModel string) *PgvectorRetriever {
	return &PgvectorRetriever{searcher: searcher, embedder: embedder, model: embeddingModel}
}

func (r *PgvectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]core.Passage, error) {
	vectors, err := r.embedder.Embed(ctx, r.model, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedding backend returned no vector")
	}
	return r.searcher.SearchPassages(ctx, vectors[0], k)
}
