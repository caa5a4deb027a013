// Package storeclient is the console's REST client for the ticket record store.
package storeclient

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

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/api/dto"
)

const maxResponseBytes = 4 << 20

// APIError is a structured rejection returned by the store. Precondition
// failures arrive as Status 409 with Code PRECONDITION_FAILED.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("store returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("store returned %d %s: %s", e.Status, e.Code, e.Message)
}

// TransportError is a call that never produced a store answer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a network or decoding failure rather than
// a store decision. Transport failures are safe to retry by refetching.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsPrecondition reports whether the store rejected a transition for the
// concern's current state.
func IsPrecondition(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == "PRECONDITION_FAILED"
}

// Client talks to the store's /api/v1 surface.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for baseURL authenticated with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListParams are the paging and filter parameters shared by list endpoints.
type ListParams struct {
	PageNumber int
	PageSize   int
	Search     string
	Statuses   []string
	Scope      string
}

// Values encodes the parameters the way the store expects them.
func (p ListParams) Values() url.Values {
	v := url.Values{}
	if p.PageNumber > 0 {
		v.Set("PageNumber", strconv.Itoa(p.PageNumber))
	}
	if p.PageSize > 0 {
		v.Set("PageSize", strconv.Itoa(p.PageSize))
	}
	if p.Search != "" {
		v.Set("Search", p.Search)
	}
	for _, s := range p.Statuses {
		v.Add("Status", s)
	}
	if p.Scope != "" {
		v.Set("Scope", p.Scope)
	}
	return v
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := method + " " + path
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	c.logger.Debug("store call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(started)))

	var env dto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return &TransportError{Op: op, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.Error != nil || resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}
