package store

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/carebrief/internal/agent/core"
)

func TestUpsertPassage(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	p := core.Passage{
		Content: "Daily weight monitoring catches decompensation early.",
		Source:  "guide.pdf",
		Page:    2,
		ChunkID: "c2",
	}

	query := regexp.QuoteMeta(`
INSERT INTO passages (source, chunk_id, page, content, embedding, created_at)
VALUES ($1,$2,$3,$4,$5::vector,NOW())
ON CONFLICT (source, chunk_id) DO UPDATE SET
  page = EXCLUDED.page,
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding
`)
	mock.ExpectExec(query).
		WithArgs(p.Source, p.ChunkID, p.Page, p.Content, "[0.1,0.2]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.UpsertPassage(context.Background(), p, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("UpsertPassage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertPassageRejectsEmptyContent(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	if err := st.UpsertPassage(context.Background(), core.Passage{Source: "a", ChunkID: "1"}, []float32{0.1}); err == nil {
		t.Fatalf("expected error for empty content")
	}
}

func TestSearchPassages(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
SELECT content, source, page, chunk_id
FROM passages
ORDER BY embedding <=> $1::vector
LIMIT $2
`)
	rows := sqlmock.NewRows([]string{"content", "source", "page", "chunk_id"}).
		AddRow("first", "a.pdf", 1, "c1").
		AddRow("second", "b.pdf", 2, "c2")
	mock.ExpectQuery(query).WithArgs("[0.5]", 2).WillReturnRows(rows)

	got, err := st.SearchPassages(context.Background(), []float32{0.5}, 2)
	if err != nil {
		t.Fatalf("SearchPassages: %v", err)
	}
	if len(got) != 2 || got[0].Source != "a.pdf" || got[1].ChunkID != "c2" {
		t.Fatalf("unexpected passages: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRunMarksInvalid(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	result := core.RunResult{RunID: "run-1", Question: "q", Invalid: core.InvalidMarker}

	query := regexp.QuoteMeta(`
INSERT INTO runs (id, question, invalid, result, created_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (id) DO UPDATE SET
  question = EXCLUDED.question,
  invalid = EXCLUDED.invalid,
  result = EXCLUDED.result
`)
	mock.ExpectExec(query).
		WithArgs(result.RunID, result.Question, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveRun(context.Background(), result); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRunRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	payload := `{"run_id":"run-1","question":"q","invalid":""}`
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT result FROM runs WHERE id = $1`)).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow([]byte(payload)))

	got, err := st.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.RunID != "run-1" || got.Question != "q" {
		t.Fatalf("unexpected run: %+v", got)
	}
}

func TestEncodeVectorLiteral(t *testing.T) {
	got, err := encodeVectorLiteral([]float32{0.1, 0.25, 1})
	if err != nil {
		t.Fatalf("encodeVectorLiteral: %v", err)
	}
	if got != "[0.1,0.25,1]" {
		t.Fatalf("literal = %q", got)
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatalf("expected error for empty vector")
	}
}
