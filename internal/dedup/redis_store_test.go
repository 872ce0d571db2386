package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/integration-hub/internal/notify"
)

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "dedup:pr_new:abc", redisKey(notify.PRNew, "abc"))
	assert.NotEqual(t, redisKey(notify.PRNew, "abc"), redisKey(notify.PRMerged, "abc"))
}

// Runs against a real server when REDIS_TEST_URL is set.
func TestRedisStoreRoundTrip(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx).Err())
	store := NewRedisStore(client, time.Hour)

	sent := time.Now().UTC().Truncate(time.Second)
	rec := Record{
		Hash:      "h1",
		Type:      notify.PRNew,
		Channel:   "#development",
		TeamID:    "platform",
		SentAt:    sent,
		CreatedAt: sent.Add(-2 * time.Hour),
	}
	require.NoError(t, store.Insert(ctx, rec))

	got, err := store.Find(ctx, "h1", notify.PRNew, sent.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "#development", got.Channel)

	got, err = store.Find(ctx, "h1", notify.PRNew, sent.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got, "records sent before the window are ignored")

	removed, err := store.DeleteOlderThan(ctx, sent.Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	got, err = store.Find(ctx, "h1", notify.PRNew, sent.Add(-time.Minute))
	require.NoError(t, err)
	assert.Nil(t, got)
}
