package transcripts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/zekehq/zeke-agent/internal/httpkit"
)

// Client fetches segments from the recorder's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a transcript source client.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger.With("component", "transcripts"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// ListSegments returns segments that started after since, oldest
// first. Segments with only markdown content get a reconstructed
// content tree so downstream consumers always see node structure.
func (c *Client) ListSegments(ctx context.Context, since time.Time) ([]*Segment, error) {
	u, err := url.Parse(c.baseURL + "/v1/segments")
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch segments: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("transcript source returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Segments []*Segment `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}

	for _, seg := range payload.Segments {
		if len(seg.Content) == 0 && seg.Markdown != "" {
			seg.Content = ParseMarkdown(seg.Markdown)
		}
	}

	c.logger.Debug("fetched segments", "count", len(payload.Segments), "since", since)
	return payload.Segments, nil
}
