package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is the body of POST {base}/api/search.
type Request struct {
	DocsetID  string `json:"docset_id"`
	Query     string `json:"query"`
	SessionID uint64 `json:"session_id"`
}

// Response is what the backend answers with. The result text is delivered
// to the store by the backend itself; callers only keep QueryID.
type Response struct {
	QueryID string `json:"query_id"`
	Result  string `json:"result"`
}

type Client struct {
	BaseURL string
	Client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Search(ctx context.Context, in Request) (*Response, error) {
	if c.Client == nil {
		return nil, errors.New("search: http client is nil")
	}
	if c.BaseURL == "" {
		return nil, errors.New("search: base url is required")
	}

	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/search", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			return nil, fmt.Errorf("search: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("search: status %d: %s", resp.StatusCode, msg)
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	return &decoded, nil
}
