// Package upstream is the HTTP client for the FeetFirst REST API.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/feetfirst/historyhub/internal/history"
	"github.com/feetfirst/historyhub/internal/models"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client talks to the customer history endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	loc     *time.Location
}

// Option configures a Client.
type Option func(*Client)

// WithLocation sets the zone for timestamps that carry none, such as
// date-only values. Default time.Local.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

var (
	_ history.HistoryAPI = (*Client)(nil)
	_ history.Remover    = (*Client)(nil)
)

// New creates a client for baseURL. A zero timeout leaves the request
// deadline to the caller's context.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateNote handles POST /customers-history/notizen/{customerId}.
func (c *Client) CreateNote(ctx context.Context, customerID string, in history.NewNote) (*models.RawHistoryRecord, error) {
	body, err := sonic.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("upstream: encode note: %w", err)
	}
	path := "/customers-history/notizen/" + url.PathEscape(customerID)

	var w wireRecord
	if err := c.do(ctx, http.MethodPost, path, nil, body, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return &models.RawHistoryRecord{}, nil
	}
	rec, _ := c.toRecord(w)
	return &rec, nil
}

// ListHistory handles GET /customers-history.
func (c *Client) ListHistory(ctx context.Context, q history.Query) ([]models.RawHistoryRecord, error) {
	params := url.Values{}
	params.Set("customerId", q.CustomerID)
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Category != "" {
		params.Set("category", q.Category)
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/customers-history", params, nil, &resp); err != nil {
		return nil, err
	}
	return c.toRecords(resp.Data), nil
}

// DeleteNote handles DELETE /customers-history/{id}.
func (c *Client) DeleteNote(ctx context.Context, recordID string) error {
	return c.do(ctx, http.MethodDelete, "/customers-history/"+url.PathEscape(recordID), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body []byte, out any) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
		slog.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("upstream: read body: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("upstream: decode %s %s: %w", method, path, err)
	}
	return nil
}
