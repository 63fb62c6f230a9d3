// Package client talks to the errhub HTTP API. It is used by errhubctl and by
// producers written in Go.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/errhub/pkg/models"
)

// Sentinel errors for API failures.
var (
	ErrUnreachable    = errors.New("errhub unreachable")
	ErrTimeout        = errors.New("errhub request timeout")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrRateLimited    = errors.New("rate limited")
	ErrRejected       = errors.New("event rejected")
	ErrUnavailable    = errors.New("errhub unavailable")
	ErrServer         = errors.New("errhub server error")
)

// APIError is the error body returned by the server. It unwraps to the
// sentinel matching its HTTP status.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return ErrInvalidRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrRejected
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		return ErrServer
	}
}

// IngestResult is the server's answer to a submitted event.
type IngestResult struct {
	ID               uuid.UUID               `json:"id"`
	Fingerprint      string                  `json:"fingerprint"`
	OccurrenceCount  int                     `json:"occurrence_count"`
	ResolutionStatus models.ResolutionStatus `json:"resolution_status"`
	Created          bool                    `json:"created"`
	Reopened         bool                    `json:"reopened"`
}

// ListOptions filters a record listing. Zero values are omitted; a nil
// Fingerprint means any fingerprint.
type ListOptions struct {
	Since       time.Time
	Until       time.Time
	Type        string
	Impact      string
	Status      string
	AssignedTo  string
	Environment string
	Fingerprint *string
	Page        int
	Limit       int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if !o.Since.IsZero() {
		v.Set("since", o.Since.UTC().Format(time.RFC3339))
	}
	if !o.Until.IsZero() {
		v.Set("until", o.Until.UTC().Format(time.RFC3339))
	}
	for key, val := range map[string]string{
		"type":        o.Type,
		"impact":      o.Impact,
		"status":      o.Status,
		"assigned_to": o.AssignedTo,
		"environment": o.Environment,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}
	if o.Fingerprint != nil {
		v.Set("fingerprint", *o.Fingerprint)
	}
	if o.Page > 0 {
		v.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	return v
}

// RecordPage is one page of a record listing.
type RecordPage struct {
	Records []*models.ErrorRecord
	Page    int
	Limit   int
	Total   int
	HasNext bool
}

// HTTPClient implements the errhub API over HTTP with a bearer API key.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Health reports whether the server and its dependencies are up.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil, nil)
}

// Ingest submits one error event.
func (c *HTTPClient) Ingest(ctx context.Context, event models.ErrorEvent) (*IngestResult, error) {
	var out IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/errors", event, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns one page of records, most recently seen first.
func (c *HTTPClient) List(ctx context.Context, opts ListOptions) (*RecordPage, error) {
	path := "/api/v1/errors"
	if q := opts.values().Encode(); q != "" {
		path += "?" + q
	}

	var records []*models.ErrorRecord
	var meta struct {
		Page    int  `json:"page"`
		Limit   int  `json:"limit"`
		Total   int  `json:"total"`
		HasNext bool `json:"has_next"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &records, &meta); err != nil {
		return nil, err
	}
	return &RecordPage{
		Records: records,
		Page:    meta.Page,
		Limit:   meta.Limit,
		Total:   meta.Total,
		HasNext: meta.HasNext,
	}, nil
}

func (c *HTTPClient) Get(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	var rec models.ErrorRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/errors/"+id.String(), nil, &rec, nil); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) History(ctx context.Context, id uuid.UUID) ([]*models.StatusChange, error) {
	var changes []*models.StatusChange
	if err := c.do(ctx, http.MethodGet, "/api/v1/errors/"+id.String()+"/history", nil, &changes, nil); err != nil {
		return nil, err
	}
	return changes, nil
}

// Summary aggregates records seen since the given time. A zero since covers everything.
func (c *HTTPClient) Summary(ctx context.Context, since time.Time) (*models.Summary, error) {
	path := "/api/v1/errors/summary"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var sum models.Summary
	if err := c.do(ctx, http.MethodGet, path, nil, &sum, nil); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (c *HTTPClient) Assign(ctx context.Context, id uuid.UUID, assignee string) (*models.ErrorRecord, error) {
	return c.transition(ctx, id, "assign", map[string]string{"assignee": assignee})
}

func (c *HTTPClient) Start(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	return c.transition(ctx, id, "start", nil)
}

func (c *HTTPClient) Resolve(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	return c.transition(ctx, id, "resolve", nil)
}

func (c *HTTPClient) Ignore(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	return c.transition(ctx, id, "ignore", nil)
}

func (c *HTTPClient) transition(ctx context.Context, id uuid.UUID, action string, body any) (*models.ErrorRecord, error) {
	var rec models.ErrorRecord
	if err := c.do(ctx, http.MethodPost, "/api/v1/errors/"+id.String()+"/"+action, body, &rec, nil); err != nil {
		return nil, err
	}
	return &rec, nil
}

// do sends a request and decodes the envelope's data (and meta) into out.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out, meta any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
		Meta json.RawMessage `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding response data: %w", err)
	}
	if meta != nil && len(env.Meta) > 0 {
		if err := json.Unmarshal(env.Meta, meta); err != nil {
			return fmt.Errorf("decoding response meta: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	var env struct {
		Error struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
