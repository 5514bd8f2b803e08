package recommender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrDisabled is returned when no scoring service is configured.
var ErrDisabled = errors.New("recommendations disabled")

// Candidate is a scored suggestion returned by the scoring service.
type Candidate struct {
	ID    string
	Score float64
}

// Config configures the HTTP client.
type Config struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the external similarity scoring service.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a client. A nil httpClient gets one with cfg.Timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Enabled reports whether calls will reach the service.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Enabled && c.cfg.BaseURL != ""
}

// SuggestMembers returns users similar to the conversation's member profile.
func (c *Client) SuggestMembers(ctx context.Context, conversationID string, limit int) ([]Candidate, error) {
	return c.post(ctx, "/v1/recommendations/members", map[string]interface{}{
		"conversationId": conversationID,
		"limit":          limit,
	})
}

// SuggestConversations returns conversations similar to the user's profile.
func (c *Client) SuggestConversations(ctx context.Context, userID string, limit int) ([]Candidate, error) {
	return c.post(ctx, "/v1/recommendations/conversations", map[string]interface{}{
		"userId": userID,
		"limit":  limit,
	})
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}) ([]Candidate, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call scoring service: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read scoring response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("scoring service returned %d: %s", resp.StatusCode, gjson.GetBytes(raw, "error").String())
	}
	return parseCandidates(raw)
}

func parseCandidates(raw []byte) ([]Candidate, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("scoring service returned invalid json")
	}
	items := gjson.GetBytes(raw, "items")
	if !items.IsArray() {
		return []Candidate{}, nil
	}
	out := make([]Candidate, 0, len(items.Array()))
	items.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		out = append(out, Candidate{ID: id, Score: item.Get("score").Float()})
		return true
	})
	return out, nil
}
