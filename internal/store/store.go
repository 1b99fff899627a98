package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/carebrief/config"
	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

// DefaultEmbeddingDimensions is the expected length of semantic
// vectors in the passages table. Must match the migration.
const DefaultEmbeddingDimensions = 1536

// Store wraps the Postgres connection for passages and run records.
type Store struct {
	DB *sql.DB
}

// New opens a Postgres connection from config and pings it.
func New(cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// UpsertPassage stores one corpus chunk with its embedding, keyed by
// (source, chunk_id).
func (s *Store) UpsertPassage(ctx context.Context, p core.Passage, embedding []float32) error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("passage content required")
	}
	vecLiteral, err := encodeVectorLiteral(embedding)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO passages (source, chunk_id, page, content, embedding, created_at)
VALUES ($1,$2,$3,$4,$5::vector,NOW())
ON CONFLICT (source, chunk_id) DO UPDATE SET
  page = EXCLUDED.page,
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding
`, p.Source, p.ChunkID, p.Page, p.Content, vecLiteral)
	return err
}

// SearchPassages returns the k passages nearest to the supplied
// vector, closest first.
func (s *Store) SearchPassages(ctx context.Context, vector []float32, k int) ([]core.Passage, error) {
	if k <= 0 {
		k = 3
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT content, source, page, chunk_id
FROM passages
ORDER BY embedding <=> $1::vector
LIMIT $2
`, vecLiteral, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passages []core.Passage
	for rows.Next() {
		var p core.Passage
		if err := rows.Scan(&p.Content, &p.Source, &p.Page, &p.ChunkID); err != nil {
			return nil, err
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// SaveRun upserts a completed run record as JSONB.
func (s *Store) SaveRun(ctx context.Context, result core.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO runs (id, question, invalid, result, created_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (id) DO UPDATE SET
  question = EXCLUDED.question,
  invalid = EXCLUDED.invalid,
  result = EXCLUDED.result
`, result.RunID, result.Question, result.Invalid != "", payload)
	return err
}

// GetRun loads one run record by id.
func (s *Store) GetRun(ctx context.Context, runID string) (core.RunResult, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `SELECT result FROM runs WHERE id = $1`, runID).Scan(&payload)
	if err != nil {
		return core.RunResult{}, err
	}
	var result core.RunResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return core.RunResult{}, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return result, nil
}

// RunSummary is a listing row for stored runs.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Question  string    `json:"question"`
	Invalid   bool      `json:"invalid"`
	CreatedAt time.Time `json:"created_at"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, question, invalid, created_at
FROM runs
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Question, &r.Invalid, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
