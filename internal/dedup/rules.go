package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/integration-hub/internal/notify"
)

// Strategy selects which fields feed a notification fingerprint.
type Strategy string

const (
	StrategyContentHash      Strategy = "content_hash"
	StrategyTypeAndID        Strategy = "type_and_id"
	StrategyAuthorAndContent Strategy = "author_and_content"
	StrategyCustomKey        Strategy = "custom_key"
)

// volatileFields never contribute to a fingerprint.
var volatileFields = []string{"timestamp", "updated_at", "created_at", "sent_at", "received_at"}

// Rule is the deduplication policy for one notification type.
type Rule struct {
	Type            notify.Type
	Strategy        Strategy
	Timeframe       time.Duration
	CustomKeyFields []string
	IgnoreFields    []string
	Enabled         bool
}

// normalized returns a copy of r whose IgnoreFields include every volatile field.
func (r Rule) normalized() Rule {
	seen := make(map[string]bool, len(r.IgnoreFields)+len(volatileFields))
	fields := make([]string, 0, len(r.IgnoreFields)+len(volatileFields))
	for _, f := range append(append([]string{}, r.IgnoreFields...), volatileFields...) {
		if seen[f] {
			continue
		}
		seen[f] = true
		fields = append(fields, f)
	}
	r.IgnoreFields = fields
	return r
}

// DefaultRules returns the built-in per-type policies.
func DefaultRules() map[notify.Type]Rule {
	rules := make(map[notify.Type]Rule)
	for _, t := range notify.AllTypes {
		var rule Rule
		switch t.Category() {
		case notify.CategoryPR:
			rule = Rule{Strategy: StrategyTypeAndID, Timeframe: 60 * time.Minute, CustomKeyFields: []string{"number", "repository"}}
		case notify.CategoryJira:
			rule = Rule{Strategy: StrategyTypeAndID, Timeframe: 30 * time.Minute, CustomKeyFields: []string{"key", "project"}}
		case notify.CategoryAlert:
			rule = Rule{Strategy: StrategyContentHash, Timeframe: 120 * time.Minute}
		case notify.CategoryStandup:
			rule = Rule{Strategy: StrategyCustomKey, Timeframe: 1440 * time.Minute, CustomKeyFields: []string{"date", "team"}}
		default:
			continue
		}
		rule.Type = t
		rule.Enabled = true
		rules[t] = rule.normalized()
	}
	return rules
}

// GenerateHash fingerprints data according to rule. Unknown strategies fall
// back to the content hash.
func GenerateHash(data map[string]any, rule Rule, typ notify.Type, author string) string {
	switch rule.Strategy {
	case StrategyTypeAndID:
		return sha256Hex(string(typ) + "|" + keyValues(data, rule.CustomKeyFields))
	case StrategyAuthorAndContent:
		return sha256Hex(author + "|" + contentHash(data, rule.IgnoreFields))
	case StrategyCustomKey:
		return sha256Hex(keyValues(data, rule.CustomKeyFields))
	default:
		return contentHash(data, rule.IgnoreFields)
	}
}

func contentHash(data map[string]any, ignore []string) string {
	filtered := make(map[string]any, len(data))
	for k, v := range data {
		filtered[k] = v
	}
	for _, f := range ignore {
		delete(filtered, f)
	}
	// encoding/json writes map keys in sorted order, which keeps this stable.
	body, err := json.Marshal(filtered)
	if err != nil {
		body = []byte(fmt.Sprint(filtered))
	}
	return sha256Hex(string(body))
}

func keyValues(data map[string]any, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if v, ok := data[f]; ok && v != nil {
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, "|")
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
