package batching

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/example/integration-hub/internal/notify"
)

// shouldProcessMessage applies, in order: cooldown, rate limits, content
// repeats and quiet hours. The caller holds st.mu.
func (b *SmartMessageBatcher) shouldProcessMessage(st *channelState, msg *BatchableMessage, spam SpamPreventionConfig, now time.Time) (bool, string) {
	m := st.activity
	if m.InCooldown {
		if now.Before(m.CooldownUntil) {
			return false, ReasonCooldown
		}
		m.InCooldown = false
		m.CooldownUntil = time.Time{}
	}

	if spam.enabled(StrategyRateLimiting) && !checkRateLimits(st, msg.Priority, spam, now) {
		b.stats.rateLimited.Add(1)
		return false, ReasonRateLimit
	}

	if spam.enabled(StrategyContentDeduplication) && !checkContentDeduplication(st, msg, spam, now) {
		b.stats.duplicates.Add(1)
		return false, ReasonDuplicate
	}

	if spam.enabled(StrategyQuietHours) && msg.Priority != notify.PriorityCritical {
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if spam.inQuietHours(ts) {
			b.stats.quietHours.Add(1)
			return false, ReasonQuietHours
		}
	}
	return true, ""
}

// checkRateLimits counts msg against the minute, hour and per-priority hour
// buckets. It rejects, without counting, when any bucket is already full.
func checkRateLimits(st *channelState, priority notify.Priority, spam SpamPreventionConfig, now time.Time) bool {
	minute := now.Unix() / 60
	hour := now.Unix() / 3600
	pruneRateBuckets(st.rateBuckets, minute, hour)

	minuteKey := rateBucket{kind: bucketMinute, index: minute}
	hourKey := rateBucket{kind: bucketHour, index: hour}
	priorityKey := rateBucket{kind: bucketPriority, priority: string(priority), index: hour}

	if spam.MaxMessagesPerMinute > 0 && st.rateBuckets[minuteKey] >= spam.MaxMessagesPerMinute {
		return false
	}
	if spam.MaxMessagesPerHour > 0 && st.rateBuckets[hourKey] >= spam.MaxMessagesPerHour {
		return false
	}
	if limit, ok := spam.PriorityRateLimits[priority]; ok && limit > 0 && st.rateBuckets[priorityKey] >= limit {
		return false
	}

	st.rateBuckets[minuteKey]++
	st.rateBuckets[hourKey]++
	st.rateBuckets[priorityKey]++
	return true
}

func pruneRateBuckets(buckets map[rateBucket]int, minute, hour int64) {
	for key := range buckets {
		switch key.kind {
		case bucketMinute:
			if key.index < minute {
				delete(buckets, key)
			}
		default:
			if key.index < hour {
				delete(buckets, key)
			}
		}
	}
}

var contentHashFields = []string{"title", "key", "number", "repository", "project"}

func contentFingerprint(msg *BatchableMessage) string {
	parts := make([]string, 0, 2+len(contentHashFields))
	parts = append(parts, msg.ContentType, msg.Author)
	for _, f := range contentHashFields {
		v, ok := msg.Data[f]
		if !ok || v == nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	sum := md5.Sum([]byte(strings.ToLower(strings.Join(parts, "|"))))
	return hex.EncodeToString(sum[:])
}

// checkContentDeduplication rejects a message whose fingerprint was seen on
// this channel within the duplicate window, otherwise records it.
func checkContentDeduplication(st *channelState, msg *BatchableMessage, spam SpamPreventionConfig, now time.Time) bool {
	hash := contentFingerprint(msg)
	if seen, ok := st.contentHashes[hash]; ok && now.Sub(seen) < spam.DuplicateContentWindow {
		return false
	}
	st.contentHashes[hash] = now

	expiry := now.Add(-2 * spam.DuplicateContentWindow)
	for h, seen := range st.contentHashes {
		if seen.Before(expiry) {
			delete(st.contentHashes, h)
		}
	}
	return true
}

// checkBurstActivity enters cooldown once burst_threshold messages land
// inside the burst window. The caller holds st.mu.
func (b *SmartMessageBatcher) checkBurstActivity(st *channelState, spam SpamPreventionConfig, now time.Time) {
	m := st.activity
	m.CurrentBurstSize = m.recent.countSince(now.Add(-spam.BurstWindow))

	if m.InCooldown {
		if !now.Before(m.CooldownUntil) {
			m.InCooldown = false
			m.CooldownUntil = time.Time{}
		}
		return
	}

	if spam.BurstThreshold > 0 && m.CurrentBurstSize >= spam.BurstThreshold {
		m.InCooldown = true
		m.CooldownUntil = now.Add(spam.CooldownAfterBurst)
		m.addBurstEvent(now)
		b.stats.burstCooldowns.Add(1)
		b.logger.Info().
			Int("burst_size", m.CurrentBurstSize).
			Time("cooldown_until", m.CooldownUntil).
			Msg("burst detected, channel entering cooldown")
	}
}
