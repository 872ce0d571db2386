// Package dedup suppresses notifications that were already sent within a
// per-type time window. Every failure path is fail-open: a broken store or
// cache never blocks a notification.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/example/integration-hub/internal/notify"
)

var checkCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dedup_checks_total",
	Help: "Duplicate checks by notification type and result",
}, []string{"type", "result"})

const (
	ReasonNoRule     = "no_rule_or_disabled"
	ReasonNoDup      = "no_duplicate_found"
	ReasonCheckError = "check_failed"

	defaultCacheSize = 10000
	defaultCacheTTL  = 24 * time.Hour
)

// Result is the outcome of CheckDuplicate.
type Result struct {
	IsDuplicate       bool
	Original          *Record
	Hash              string
	Reason            string
	TimeSinceOriginal time.Duration
}

// Options configures a Deduplicator.
type Options struct {
	Rules map[notify.Type]Rule
	// Store is optional; without it only the in-process cache is consulted.
	Store     Store
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

// Stats summarizes deduplicator activity.
type Stats struct {
	Checks           int64                 `json:"checks"`
	DuplicatesFound  int64                 `json:"duplicates_found"`
	RecordsStored    int64                 `json:"records_stored"`
	StoreErrors      int64                 `json:"store_errors"`
	CacheSize        int                   `json:"cache_size"`
	Rules            int                   `json:"rules"`
	DuplicatesByType map[notify.Type]int64 `json:"duplicates_by_type"`
}

type Deduplicator struct {
	mu    sync.Mutex
	rules map[notify.Type]Rule
	stats Stats

	cache  *expirable.LRU[string, Record]
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

func NewDeduplicator(opts Options, logger zerolog.Logger) *Deduplicator {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	d := &Deduplicator{
		rules:  make(map[notify.Type]Rule),
		cache:  expirable.NewLRU[string, Record](size, nil, ttl),
		store:  opts.Store,
		now:    opts.Now,
		logger: logger.With().Str("component", "deduplicator").Logger(),
	}
	d.stats.DuplicatesByType = make(map[notify.Type]int64)
	if d.now == nil {
		d.now = time.Now
	}
	for t, rule := range opts.Rules {
		rule.Type = t
		d.rules[t] = rule.normalized()
	}
	return d
}

func cacheKey(typ notify.Type, hash string) string {
	return string(typ) + ":" + hash
}

// AddDeduplicationRule installs or replaces the rule for rule.Type.
func (d *Deduplicator) AddDeduplicationRule(rule Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules[rule.Type] = rule.normalized()
}

func (d *Deduplicator) rule(typ notify.Type) (Rule, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rules[typ]
	return r, ok
}

// GenerateHash fingerprints data with the rule configured for typ, falling
// back to a content hash when no rule exists.
func (d *Deduplicator) GenerateHash(typ notify.Type, data map[string]any, author string) string {
	rule, ok := d.rule(typ)
	if !ok {
		rule = Rule{Strategy: StrategyContentHash}.normalized()
	}
	return GenerateHash(data, rule, typ, author)
}

// CheckDuplicate reports whether an equivalent notification was sent inside
// the rule's timeframe. It never fails; errors resolve to "not a duplicate".
func (d *Deduplicator) CheckDuplicate(ctx context.Context, typ notify.Type, data map[string]any, channel, teamID, author string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error().Interface("panic", p).Str("type", string(typ)).Msg("duplicate check failed, allowing notification")
			checkCounter.WithLabelValues(string(typ), "error").Inc()
			res = Result{Hash: res.Hash, Reason: ReasonCheckError}
		}
	}()

	rule, ok := d.rule(typ)
	if !ok || !rule.Enabled {
		checkCounter.WithLabelValues(string(typ), "skipped").Inc()
		return Result{Reason: ReasonNoRule}
	}

	hash := GenerateHash(data, rule, typ, author)
	res.Hash = hash
	now := d.now()
	cutoff := now.Add(-rule.Timeframe)

	original := d.findCached(typ, hash, cutoff)
	if original == nil {
		original = d.findStored(ctx, typ, hash, cutoff)
	}

	d.mu.Lock()
	d.stats.Checks++
	if original != nil {
		d.stats.DuplicatesFound++
		d.stats.DuplicatesByType[typ]++
	}
	d.mu.Unlock()

	if original == nil {
		checkCounter.WithLabelValues(string(typ), "unique").Inc()
		return Result{Hash: hash, Reason: ReasonNoDup}
	}

	checkCounter.WithLabelValues(string(typ), "duplicate").Inc()
	since := now.Sub(original.SentAt)
	if since < 0 {
		since = 0
	}
	d.logger.Debug().
		Str("type", string(typ)).
		Str("channel", channel).
		Str("team", teamID).
		Dur("since_original", since).
		Msg("duplicate notification")
	return Result{
		IsDuplicate:       true,
		Original:          original,
		Hash:              hash,
		Reason:            fmt.Sprintf("duplicate_within_%dm", int(rule.Timeframe.Minutes())),
		TimeSinceOriginal: since,
	}
}

func (d *Deduplicator) findCached(typ notify.Type, hash string, cutoff time.Time) *Record {
	rec, ok := d.cache.Get(cacheKey(typ, hash))
	if !ok || rec.Type != typ || rec.SentAt.Before(cutoff) {
		return nil
	}
	return &rec
}

func (d *Deduplicator) findStored(ctx context.Context, typ notify.Type, hash string, cutoff time.Time) *Record {
	if d.store == nil {
		return nil
	}
	rec, err := d.store.Find(ctx, hash, typ, cutoff)
	if err != nil {
		d.storeFailed(err, "lookup")
		return nil
	}
	if rec != nil {
		d.cache.Add(cacheKey(typ, hash), *rec)
	}
	return rec
}

func (d *Deduplicator) storeFailed(err error, op string) {
	d.mu.Lock()
	d.stats.StoreErrors++
	d.mu.Unlock()
	d.logger.Warn().Err(err).Str("op", op).Msg("dedup store error, continuing without it")
}

// RecordNotification remembers a sent notification. The cache write always
// succeeds; the store write is best effort.
func (d *Deduplicator) RecordNotification(ctx context.Context, typ notify.Type, data map[string]any, channel, teamID, hash, author string) bool {
	now := d.now()
	if hash == "" {
		hash = d.GenerateHash(typ, data, author)
	}
	rec := Record{
		Hash:      hash,
		Type:      typ,
		Channel:   channel,
		TeamID:    teamID,
		Author:    author,
		Data:      data,
		SentAt:    now,
		CreatedAt: now,
	}
	d.cache.Add(cacheKey(typ, hash), rec)

	d.mu.Lock()
	d.stats.RecordsStored++
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.Insert(ctx, rec); err != nil {
			d.storeFailed(err, "insert")
		}
	}
	return true
}

// CleanupOldRecords removes cached and stored records created before
// now-retention and returns how many were removed in total.
func (d *Deduplicator) CleanupOldRecords(ctx context.Context, retention time.Duration) int64 {
	cutoff := d.now().Add(-retention)

	var removed int64
	for _, key := range d.cache.Keys() {
		rec, ok := d.cache.Peek(key)
		if ok && rec.CreatedAt.Before(cutoff) {
			if d.cache.Remove(key) {
				removed++
			}
		}
	}

	if d.store != nil {
		n, err := d.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			d.storeFailed(err, "cleanup")
		}
		removed += n
	}

	d.logger.Info().Int64("removed", removed).Dur("retention", retention).Msg("cleaned up dedup records")
	return removed
}

// GetDeduplicationStats returns a snapshot of counters.
func (d *Deduplicator) GetDeduplicationStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.stats
	out.CacheSize = d.cache.Len()
	out.Rules = len(d.rules)
	out.DuplicatesByType = make(map[notify.Type]int64, len(d.stats.DuplicatesByType))
	for t, n := range d.stats.DuplicatesByType {
		out.DuplicatesByType[t] = n
	}
	return out
}
