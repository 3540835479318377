package usage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	errx "github.com/procura-agent/server/internal/core/error"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.data[r.idx-1], dest)
}

func assign(row, dest []any) error {
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d columns, %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = v.(uuid.UUID)
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *float64:
			*d = v.(float64)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

type fakeDB struct {
	execs    []string
	execArgs [][]any
	execErr  error
	rows     *fakeRows
	queryArg []any
	total    float64
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, sql)
	db.execArgs = append(db.execArgs, args)
	return pgconn.CommandTag{}, db.execErr
}

func (db *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	db.queryArg = args
	if db.rows == nil {
		return &fakeRows{}, nil
	}
	return db.rows, nil
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	db.queryArg = args
	return &fakeRow{scan: func(dest ...any) error { return assign([]any{db.total}, dest) }}
}

func TestPGStore_CreateSchema(t *testing.T) {
	db := &fakeDB{}
	if err := NewPGStore(db).CreateSchema(context.Background()); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}
	if len(db.execs) != 1 || !strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS token_usage_records") {
		t.Errorf("execs = %v", db.execs)
	}

	db.execErr = &pgconn.PgError{Code: "42501", Message: "permission denied"}
	err := NewPGStore(db).CreateSchema(context.Background())
	if errx.StatusOf(err) != http.StatusBadGateway {
		t.Errorf("CreateSchema error = %v, want wrapped postgres error", err)
	}
}

func TestPGStore_SaveFillsIDAndTime(t *testing.T) {
	db := &fakeDB{}
	rec := Record{Provider: "openai", Model: "gpt-4o", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CostUSD: 0.01, Estimated: true, ConversationID: "c1"}

	if err := NewPGStore(db).Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(db.execArgs) != 1 || len(db.execArgs[0]) != 11 {
		t.Fatalf("exec args = %v", db.execArgs)
	}
	args := db.execArgs[0]
	if id, _ := args[0].(uuid.UUID); id == uuid.Nil {
		t.Error("Save did not assign an id")
	}
	if at, _ := args[10].(time.Time); at.IsZero() {
		t.Error("Save did not stamp created_at")
	}
	if args[7] != true || args[8] != "c1" {
		t.Errorf("estimated/conversation args = %v, %v", args[7], args[8])
	}
}

func TestPGStore_SaveErrorIsWrapped(t *testing.T) {
	cause := &pgconn.PgError{Code: "23505"}
	db := &fakeDB{execErr: cause}

	err := NewPGStore(db).Save(context.Background(), Record{ID: uuid.New()})
	if !errors.Is(err, cause) {
		t.Fatalf("Save error = %v, want cause preserved", err)
	}
	if errx.StatusOf(err) != http.StatusConflict {
		t.Errorf("status = %d, want 409", errx.StatusOf(err))
	}
}

func TestPGStore_ListAndTotal(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	id := uuid.New()
	db := &fakeDB{
		rows: &fakeRows{data: [][]any{
			{id, "gemini", "gemini-2.5-flash", 100, 20, 120, 0.0002, false, "c1", "u1", at},
		}},
		total: 0.75,
	}
	s := NewPGStore(db)

	got, err := s.ListByConversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListByConversation: %v", err)
	}
	if len(got) != 1 || got[0].ID != id || got[0].Model != "gemini-2.5-flash" || got[0].TotalTokens != 120 || !got[0].CreatedAt.Equal(at) {
		t.Errorf("records = %+v", got)
	}
	if len(db.queryArg) != 1 || db.queryArg[0] != "c1" {
		t.Errorf("query args = %v", db.queryArg)
	}

	total, err := s.TotalCostByConversation(context.Background(), "c1")
	if err != nil {
		t.Fatalf("TotalCostByConversation: %v", err)
	}
	if total != 0.75 {
		t.Errorf("total = %v, want 0.75", total)
	}
}

func TestPGStore_ListRowsError(t *testing.T) {
	db := &fakeDB{rows: &fakeRows{err: context.DeadlineExceeded}}

	_, err := NewPGStore(db).ListByConversation(context.Background(), "c1")
	if errx.StatusOf(err) != http.StatusGatewayTimeout {
		t.Errorf("error = %v, want gateway timeout", err)
	}
}
