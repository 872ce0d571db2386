package dedup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/integration-hub/internal/notify"
)

// ErrStoreUnavailable marks a store that could not be reached.
var ErrStoreUnavailable = errors.New("dedup store unavailable")

// Record is a sent notification as remembered by the deduplicator.
type Record struct {
	Hash      string         `json:"notification_hash"`
	Type      notify.Type    `json:"notification_type"`
	Channel   string         `json:"channel"`
	TeamID    string         `json:"team_id"`
	Author    string         `json:"author,omitempty"`
	Data      map[string]any `json:"data"`
	SentAt    time.Time      `json:"sent_at"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the external record store. Find returns (nil, nil) when nothing matches.
type Store interface {
	Find(ctx context.Context, hash string, typ notify.Type, notOlderThan time.Time) (*Record, error)
	Insert(ctx context.Context, rec Record) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MemoryStore keeps records in process. Used when no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Find(_ context.Context, hash string, typ notify.Type, notOlderThan time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *Record
	for i := range s.records {
		rec := s.records[i]
		if rec.Hash != hash || rec.Type != typ || rec.SentAt.Before(notOlderThan) {
			continue
		}
		if found == nil || rec.SentAt.After(found.SentAt) {
			found = &rec
		}
	}
	return found, nil
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var removed int64
	for _, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
