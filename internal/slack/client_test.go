package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path string
	auth string
	body map[string]any
}

func slackServer(t *testing.T, status int, resp string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientPostMessage(t *testing.T) {
	var got captured
	srv := slackServer(t, http.StatusOK, `{"ok":true}`, &got)
	c := NewClient(srv.URL+"/", "xoxb-test", 0)

	require.NoError(t, c.PostMessage(context.Background(), "#development", "hello"))
	assert.Equal(t, "/chat.postMessage", got.path)
	assert.Equal(t, "Bearer xoxb-test", got.auth)
	assert.Equal(t, "#development", got.body["channel"])
	assert.Equal(t, "hello", got.body["text"])
}

func TestClientScheduleMessage(t *testing.T) {
	var got captured
	srv := slackServer(t, http.StatusOK, `{"ok":true}`, &got)
	c := NewClient(srv.URL, "xoxb-test", 10)
	postAt := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	require.NoError(t, c.ScheduleMessage(context.Background(), "#team-alpha", "later", postAt))
	assert.Equal(t, "/chat.scheduleMessage", got.path)
	assert.EqualValues(t, postAt.Unix(), got.body["post_at"])
}

func TestClientErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		resp      string
		permanent bool
	}{
		{"server error", http.StatusBadGateway, "", false},
		{"http rate limit", http.StatusTooManyRequests, "", false},
		{"bad request", http.StatusBadRequest, "", true},
		{"api rate limit", http.StatusOK, `{"ok":false,"error":"ratelimited"}`, false},
		{"unknown channel", http.StatusOK, `{"ok":false,"error":"channel_not_found"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got captured
			srv := slackServer(t, tc.status, tc.resp, &got)
			err := NewClient(srv.URL, "t", 0).PostMessage(context.Background(), "#x", "y")
			require.Error(t, err)
			var perm *backoff.PermanentError
			assert.Equal(t, tc.permanent, errors.As(err, &perm))
		})
	}
}
