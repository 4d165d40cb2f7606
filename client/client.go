package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoCursor is returned by GetCursor when the server has not persisted a cursor.
var ErrNoCursor = errors.New("no cursor")

// Cursor is the polling position the server reports.
type Cursor struct {
	Program   string    `json:"program"`
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`
	Cursor    string    `json:"cursor"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Event is a program event delivered over the event stream.
type Event struct {
	Name      string         `json:"name"`
	Data      map[string]any `json:"data"`
	BlockTime int64          `json:"blockTime"`
	Timestamp int64          `json:"timestamp"`
	TxID      string         `json:"txId"`
	Slot      uint64         `json:"slot"`
	Program   string         `json:"program"`
	LogIndex  int            `json:"logIndex"`
}

// Client is the HTTP client for the event service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new event service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

// GetCursor retrieves the server's persisted polling cursor.
// Returns ErrNoCursor when none exists or persistence is disabled.
func (c *Client) GetCursor(ctx context.Context) (*Cursor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/cursor", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", ErrNoCursor, c.parseErrorResponse(resp))
	default:
		return nil, c.parseErrorResponse(resp)
	}

	var cur Cursor
	if err := json.NewDecoder(resp.Body).Decode(&cur); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &cur, nil
}

// StreamEvents subscribes to the server's event stream and calls handle for every
// event until ctx is done, the server closes the stream, or handle returns an error.
// filter is an optional jq predicate evaluated by the server.
// A stream ended by ctx returns nil.
func (c *Client) StreamEvents(ctx context.Context, filter string, handle func(Event) error) error {
	u := c.baseURL + "/api/v1/stream/events"
	if filter != "" {
		u += "?" + url.Values{"filter": {filter}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client may carry a timeout; streams must not.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := c.handleFrame(currentEvent, currentData, handle); err != nil {
					return err
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading event stream: %w", err)
	}
	return nil
}

func (c *Client) handleFrame(eventType, data string, handle func(Event) error) error {
	switch eventType {
	case "connected":
		c.logger.Debug("event stream connected", "info", data)
		return nil
	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return fmt.Errorf("failed to decode stream error: %w", err)
		}
		return fmt.Errorf("server error: %s", errInfo.Error)
	}

	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		c.logger.Warn("failed to decode event", "event", eventType, "error", err)
		return nil
	}
	return handle(ev)
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
