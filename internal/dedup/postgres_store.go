package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/integration-hub/internal/notify"
)

const insertRecord = `
INSERT INTO notification_records (
notification_hash,
notification_type,
channel,
team_id,
author,
data,
sent_at,
created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`

const selectRecord = `
SELECT notification_hash, notification_type, channel, team_id, author, data, sent_at, created_at
FROM notification_records
WHERE notification_hash = $1 AND notification_type = $2 AND sent_at >= $3
ORDER BY sent_at DESC
LIMIT 1
`

const deleteRecords = `
DELETE FROM notification_records
WHERE created_at < $1
`

// querier is the subset of *pgxpool.Pool the store needs.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db querier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

var ErrNotConfigured = errors.New("postgres store requires a non-nil pool")

func MustPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	return NewPostgresStore(pool), nil
}

func (s *PostgresStore) Find(ctx context.Context, hash string, typ notify.Type, notOlderThan time.Time) (*Record, error) {
	row := s.db.QueryRow(ctx, selectRecord, hash, string(typ), notOlderThan)

	var (
		rec      Record
		recType  string
		dataJSON []byte
		author   *string
	)
	if err := row.Scan(&rec.Hash, &recType, &rec.Channel, &rec.TeamID, &author, &dataJSON, &rec.SentAt, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	rec.Type = notify.Type(recType)
	if author != nil {
		rec.Author = *author
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode record data: %w", err)
		}
	}
	return &rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode record data: %w", err)
	}
	var author *string
	if rec.Author != "" {
		author = &rec.Author
	}
	if _, err := s.db.Exec(ctx, insertRecord,
		rec.Hash,
		string(rec.Type),
		rec.Channel,
		rec.TeamID,
		author,
		data,
		rec.SentAt,
		rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, deleteRecords, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return tag.RowsAffected(), nil
}
