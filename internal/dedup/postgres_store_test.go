package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/integration-hub/internal/notify"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case **string:
			if r.values[i] != nil {
				s := r.values[i].(string)
				*p = &s
			}
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

type fakeQuerier struct {
	row      pgx.Row
	execTag  string
	execErr  error
	lastSQL  string
	lastArgs []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL, q.lastArgs = sql, args
	return q.row
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.lastSQL, q.lastArgs = sql, args
	return pgconn.NewCommandTag(q.execTag), q.execErr
}

func TestPostgresStoreFind(t *testing.T) {
	sent := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	q := &fakeQuerier{row: fakeRow{values: []any{
		"abc", "pr_new", "#development", "backend", "alice", []byte(`{"number":42}`), sent, sent,
	}}}
	store := &PostgresStore{db: q}

	rec, err := store.Find(context.Background(), "abc", notify.PRNew, sent.Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil || rec.Type != notify.PRNew || rec.Author != "alice" || rec.Data["number"] != float64(42) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if q.lastArgs[1] != "pr_new" {
		t.Fatalf("expected type argument pr_new, got %v", q.lastArgs[1])
	}
}

func TestPostgresStoreFindNoRows(t *testing.T) {
	store := &PostgresStore{db: &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}}
	rec, err := store.Find(context.Background(), "abc", notify.PRNew, time.Now())
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestPostgresStoreFindError(t *testing.T) {
	store := &PostgresStore{db: &fakeQuerier{row: fakeRow{err: errors.New("conn reset")}}}
	if _, err := store.Find(context.Background(), "abc", notify.PRNew, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPostgresStoreDeleteOlderThan(t *testing.T) {
	q := &fakeQuerier{execTag: "DELETE 3"}
	store := &PostgresStore{db: q}
	n, err := store.DeleteOlderThan(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestPostgresStoreInsertNullAuthor(t *testing.T) {
	q := &fakeQuerier{execTag: "INSERT 0 1"}
	store := &PostgresStore{db: q}
	err := store.Insert(context.Background(), Record{Hash: "abc", Type: notify.AlertOutage, Data: map[string]any{"title": "down"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if author, ok := q.lastArgs[4].(*string); !ok || author != nil {
		t.Fatalf("expected nil author pointer, got %#v", q.lastArgs[4])
	}
}

func TestMustPostgresStore(t *testing.T) {
	if _, err := MustPostgresStore(nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
