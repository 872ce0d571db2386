package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client calls the Slack Web API. Every request waits on the limiter first.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

func NewClient(baseURL, token string, perSecond float64) *Client {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		Limiter: rate.NewLimiter(limit, 1),
	}
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// PostMessage posts text to channel now.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	return c.call(ctx, "chat.postMessage", map[string]any{
		"channel": channel,
		"text":    text,
	})
}

// ScheduleMessage asks Slack to post text to channel at postAt.
func (c *Client) ScheduleMessage(ctx context.Context, channel, text string, postAt time.Time) error {
	return c.call(ctx, "chat.scheduleMessage", map[string]any{
		"channel": channel,
		"text":    text,
		"post_at": postAt.Unix(),
	})
}

// call returns a backoff.Permanent error for failures a retry cannot fix.
func (c *Client) call(ctx context.Context, method string, payload map[string]any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("slack %s rate limited: %s", method, resp.Status)
	case resp.StatusCode >= 500:
		return fmt.Errorf("slack %s temporary error: %s", method, resp.Status)
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("slack %s permanent error: %s", method, resp.Status))
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode slack %s response: %w", method, err)
	}
	if !out.OK {
		if out.Error == "ratelimited" {
			return fmt.Errorf("slack %s: %s", method, out.Error)
		}
		return backoff.Permanent(fmt.Errorf("slack %s: %s", method, out.Error))
	}
	return nil
}
