// Package progressclient is the playback service's view of the durable
// progress store. Saves are retried with bounded exponential backoff;
// exhausted retries surface as an error that callers treat as best-effort.
package progressclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultMaxAttempts = 3

// Record mirrors the store's ProgressRecord wire shape.
type Record struct {
	UserID          string    `json:"user_id"`
	ItemID          string    `json:"item_id"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds"`
	Percent         int       `json:"percent"`
	LastPlayedAt    time.Time `json:"last_played_at"`
}

// Store is what the sequence player persists against.
type Store interface {
	Load(ctx context.Context, itemIDs []string) (map[string]Record, error)
	Save(ctx context.Context, itemID string, positionSeconds, durationSeconds float64) error
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string // bearer token forwarded to the progress service

	MaxAttempts int
	Log         *zap.Logger

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(time.Duration)
}

func New(baseURL, token string, log *zap.Logger) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
		Token:       token,
		MaxAttempts: defaultMaxAttempts,
		Log:         log,
		sleep:       time.Sleep,
	}
}

type bulkResponse struct {
	Progress map[string]Record `json:"progress"`
}

// Load bulk-fetches progress for the given items. Missing items are simply
// absent from the result. Called once at sequence mount, so not retried.
func (c *Client) Load(ctx context.Context, itemIDs []string) (map[string]Record, error) {
	u, err := url.Parse(c.BaseURL + "/v1/progress")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("item_ids", strings.Join(itemIDs, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("progress load: status %d", resp.StatusCode)
	}
	var out bulkResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("progress load: decode: %w", err)
	}
	if out.Progress == nil {
		out.Progress = map[string]Record{}
	}
	return out.Progress, nil
}

type saveRequest struct {
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Save upserts progress for one item, retrying transient failures with
// exponential backoff (2s, 4s, 8s). A call with duration <= 0 is a contract
// violation by the player; it is dropped with a warning and no attempts.
func (c *Client) Save(ctx context.Context, itemID string, positionSeconds, durationSeconds float64) error {
	if durationSeconds <= 0 {
		c.Log.Warn("progress save skipped, duration unknown", zap.String("item_id", itemID))
		return nil
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = c.saveOnce(ctx, itemID, positionSeconds, durationSeconds)
		if lastErr == nil {
			return nil
		}
		c.Log.Warn("progress save failed",
			zap.String("item_id", itemID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		c.sleep(time.Duration(1<<attempt) * time.Second)
	}
	return fmt.Errorf("progress save: gave up after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) saveOnce(ctx context.Context, itemID string, positionSeconds, durationSeconds float64) error {
	body, err := json.Marshal(saveRequest{PositionSeconds: positionSeconds, DurationSeconds: durationSeconds})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.BaseURL+"/v1/progress/"+url.PathEscape(itemID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lms-platform-playback/1.0")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}
