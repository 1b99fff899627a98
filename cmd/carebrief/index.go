package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/mohammad-safakhou/carebrief/config"
	core "github.com/mohammad-safakhou/carebrief/internal/agent/core"
	"github.com/mohammad-safakhou/carebrief/internal/store"
)

// embedBatchSize bounds one embeddings API request.
const embedBatchSize = 64

// indexCorpus embeds a pre-chunked passages JSON file and upserts the
// vectors into Postgres for the pgvector retrieval backend.
func indexCorpus(ctx context.Context, cfg *config.Config, corpusPath string) error {
	logger := log.New(log.Writer(), "[INDEX] ", log.LstdFlags)

	b, err := os.ReadFile(corpusPath)
	if err != nil {
		return fmt.Errorf("read corpus: %w", err)
	}
	var passages []core.Passage
	if err := json.Unmarshal(b, &passages); err != nil {
		return fmt.Errorf("parse corpus: %w", err)
	}
	if len(passages) == 0 {
		return fmt.Errorf("corpus %s contains no passages", corpusPath)
	}

	st, err := store.New(cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("connecting store: %w", err)
	}
	defer st.Close()

	provider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("building embedder: %w", err)
	}
	model := cfg.LLM.EmbeddingModel()

	for start := 0; start < len(passages); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(passages) {
			end = len(passages)
		}
		batch := passages[start:end]
		inputs := make([]string, len(batch))
		for i, p := range batch {
			inputs[i] = p.Content
		}
		vectors, err := provider.Embed(ctx, model, inputs)
		if err != nil {
			return fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding batch at %d: got %d vectors for %d passages", start, len(vectors), len(batch))
		}
		for i, p := range batch {
			if err := st.UpsertPassage(ctx, p, vectors[i]); err != nil {
				return fmt.Errorf("upsert %s chunk %s: %w", p.Source, p.ChunkID, err)
			}
		}
		logger.Printf("indexed %d/%d passages", end, len(passages))
	}
	return nil
}
