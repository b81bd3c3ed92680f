package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// APIError is a non-2xx answer from the broker.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
}

// IsConflict reports whether err is a duplicate id rejection.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusConflict
}

// Entry is the stored priority and timestamp of a live message.
type Entry struct {
	Priority  int   `json:"priority"`
	Timestamp int64 `json:"timestamp"`
}

// Stats mirrors the broker's /stats payload.
type Stats struct {
	Depth        int               `json:"depth"`
	Watermark    int64             `json:"watermark"`
	HasWatermark bool              `json:"has_watermark"`
	Admitted     uint64            `json:"admitted_total"`
	Popped       uint64            `json:"popped_total"`
	EmptyPops    uint64            `json:"empty_pops_total"`
	Rejected     map[string]uint64 `json:"rejected_total"`
}

// Client talks to one broker.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for the broker at endpoint (e.g. "http://localhost:8000").
// A zero timeout uses the 10s default.
func New(endpoint string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("client: parse endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: endpoint %q: scheme must be http or https", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Add admits a message and returns the broker's confirmation text.
func (c *Client) Add(ctx context.Context, id string, priority int, timestamp int64) (string, error) {
	body, err := json.Marshal(struct {
		ID        string `json:"id"`
		Priority  int    `json:"priority"`
		Timestamp int64  `json:"timestamp"`
	}{id, priority, timestamp})
	if err != nil {
		return "", fmt.Errorf("client: encode add: %w", err)
	}

	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/add", body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Pop removes the highest-priority message. ok is false when the queue is
// empty.
func (c *Client) Pop(ctx context.Context) (id string, ok bool, err error) {
	var resp struct {
		ID *string `json:"id"`
	}
	if err := c.do(ctx, http.MethodGet, "/pop", nil, &resp); err != nil {
		return "", false, err
	}
	if resp.ID == nil {
		return "", false, nil
	}
	return *resp.ID, true, nil
}

// Find looks up a live message without removing it.
func (c *Client) Find(ctx context.Context, id string) (Entry, bool, error) {
	var resp *Entry
	if err := c.do(ctx, http.MethodGet, "/find/"+url.PathEscape(id), nil, &resp); err != nil {
		return Entry{}, false, err
	}
	if resp == nil {
		return Entry{}, false, nil
	}
	return *resp, true, nil
}

// List returns all live ids in pop order.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.do(ctx, http.MethodGet, "/list", nil, &ids); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Stats fetches the broker's counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &s); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// do sends one request and decodes a 200 JSON answer into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s response: %w", path, err)
	}
	return nil
}

// decodeError builds an APIError from a failed response. The broker answers
// {"error": "..."}; anything else is kept as raw text.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
