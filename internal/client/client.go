// Package client talks to the city search HTTP API and holds the client-side
// chat controllers.
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
	"strconv"
	"strings"
	"time"
)

type City struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type Message struct {
	ID          uint64    `json:"id"`
	SessionID   uint64    `json:"session_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`

	// Error is set locally when an optimistic send failed.
	Error string `json:"-"`
}

type Session struct {
	ID            uint64    `json:"id"`
	CityName      string    `json:"city_name"`
	SessionNumber int       `json:"session_number"`
	StartedAt     time.Time `json:"started_at"`
}

// APIError is a non-2xx API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

// ErrInvalidCity is returned by Ask when the city is not offered.
var ErrInvalidCity = errors.New("Please select a valid city.")

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateSession(ctx context.Context, cityID uint64) (uint64, error) {
	var out struct {
		Status    string `json:"status"`
		SessionID uint64 `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/create-session", nil, map[string]any{"city_id": cityID}, &out); err != nil {
		return 0, err
	}
	if out.SessionID == 0 {
		return 0, errors.New("create session: response has no session_id")
	}
	return out.SessionID, nil
}

func (c *Client) CreateMessage(ctx context.Context, sessionID uint64, content string) (*Message, error) {
	var out struct {
		Message Message `json:"message"`
	}
	body := map[string]any{"session_id": sessionID, "content": content}
	if err := c.do(ctx, http.MethodPost, "/api/create-message", nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *Client) FetchCities(ctx context.Context) ([]City, error) {
	var out struct {
		Cities []City `json:"cities"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/fetch-cities", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Cities, nil
}

func (c *Client) FetchMessages(ctx context.Context, sessionID uint64) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	q := url.Values{"session_id": {strconv.FormatUint(sessionID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/fetch-messages", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/list-sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// HasPending calls pending-service-responses. It satisfies poll.Checker.
func (c *Client) HasPending(ctx context.Context, sessionID uint64) (bool, error) {
	var out struct {
		Pending bool `json:"pending"`
	}
	q := url.Values{"session_id": {strconv.FormatUint(sessionID, 10)}}
	if err := c.do(ctx, http.MethodGet, "/api/pending-service-responses", q, nil, &out); err != nil {
		return false, err
	}
	return out.Pending, nil
}

// Ask is the home page flow: pick the city by name, open a session and post
// the first question. It returns the new session id.
func (c *Client) Ask(ctx context.Context, cityName, query string) (uint64, error) {
	cities, err := c.FetchCities(ctx)
	if err != nil {
		return 0, err
	}
	var city *City
	for i := range cities {
		if strings.EqualFold(cities[i].Name, strings.TrimSpace(cityName)) {
			city = &cities[i]
			break
		}
	}
	if city == nil {
		return 0, ErrInvalidCity
	}

	sessionID, err := c.CreateSession(ctx, city.ID)
	if err != nil {
		return 0, err
	}
	if _, err := c.CreateMessage(ctx, sessionID, query); err != nil {
		return 0, err
	}
	return sessionID, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &eb) == nil {
			apiErr.Message = eb.Error
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
