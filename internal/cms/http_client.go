package cms

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

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/pkg/interfaces"
)

var ErrTokenRequired = errors.New("cms: management token is required")
var ErrSpaceRequired = errors.New("cms: space id is required")

const managementContentType = "application/vnd.contentful.management.v1+json"

const (
	headerContentTypeID = "X-Contentful-Content-Type"
	headerVersion       = "X-Contentful-Version"
)

// Doer issues HTTP requests. *http.Client satisfies it; tests substitute a
// recording implementation.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClientConfig captures the settings for the management API client.
type HTTPClientConfig struct {
	BaseURL       string
	Token         string
	Scope         Scope
	CallTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// HTTPClient talks to the CMS management API. Reads are retried with
// exponential backoff on transient failures; writes are issued exactly once
// so entry creation can never duplicate.
type HTTPClient struct {
	baseURL  string
	token    string
	scope    Scope
	doer     Doer
	logger   interfaces.Logger
	clk      clock.Clock
	timeout  time.Duration
	attempts int
	delay    time.Duration
	maxDelay time.Duration
}

var _ Client = (*HTTPClient)(nil)

// HTTPClientOption customizes the HTTP client.
type HTTPClientOption func(*HTTPClient)

// WithHTTPDoer overrides the transport used for requests.
func WithHTTPDoer(doer Doer) HTTPClientOption {
	return func(c *HTTPClient) {
		if doer != nil {
			c.doer = doer
		}
	}
}

// WithHTTPLogger attaches a logger to the client.
func WithHTTPLogger(logger interfaces.Logger) HTTPClientOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClock overrides the clock driving retry backoff.
func WithHTTPClock(clk clock.Clock) HTTPClientOption {
	return func(c *HTTPClient) {
		if clk != nil {
			c.clk = clk
		}
	}
}

// NewHTTPClient constructs a management API client bound to cfg.Scope.
func NewHTTPClient(cfg HTTPClientConfig, opts ...HTTPClientOption) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrTokenRequired
	}
	if strings.TrimSpace(cfg.Scope.SpaceID) == "" {
		return nil, ErrSpaceRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.contentful.com"
	}
	scope := cfg.Scope
	if strings.TrimSpace(scope.EnvironmentID) == "" {
		scope.EnvironmentID = "master"
	}

	client := &HTTPClient{
		baseURL:  baseURL,
		token:    cfg.Token,
		scope:    scope,
		doer:     &http.Client{},
		logger:   logging.NoOp(),
		clk:      clock.WallClock,
		timeout:  cfg.CallTimeout,
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
		maxDelay: cfg.RetryMaxDelay,
	}
	if client.timeout <= 0 {
		client.timeout = 30 * time.Second
	}
	if client.attempts < 1 {
		client.attempts = 3
	}
	if client.delay <= 0 {
		client.delay = 500 * time.Millisecond
	}
	if client.maxDelay <= 0 {
		client.maxDelay = 5 * time.Second
	}

	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Scoped returns a copy of the client bound to another space/environment,
// sharing transport, credentials, and retry settings.
func (c *HTTPClient) Scoped(scope Scope) *HTTPClient {
	copied := *c
	if strings.TrimSpace(scope.SpaceID) != "" {
		copied.scope.SpaceID = scope.SpaceID
	}
	if strings.TrimSpace(scope.EnvironmentID) != "" {
		copied.scope.EnvironmentID = scope.EnvironmentID
	}
	return &copied
}

// Scope returns the space/environment pair the client is bound to.
func (c *HTTPClient) Scope() Scope {
	return c.scope
}

func (c *HTTPClient) GetEntry(ctx context.Context, id string) (*Entry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrEntryIDRequired
	}
	var entry Entry
	if err := c.getJSON(ctx, c.envURL("entries", id), nil, &entry, ErrEntryNotFound); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *HTTPClient) GetContentType(ctx context.Context, id string) (*ContentType, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrContentTypeIDRequired
	}
	var schema ContentType
	if err := c.getJSON(ctx, c.envURL("content_types", id), nil, &schema, ErrContentTypeNotFound); err != nil {
		return nil, err
	}
	return &schema, nil
}

func (c *HTTPClient) GetEntries(ctx context.Context, query Query) ([]*Entry, error) {
	params := url.Values{}
	if query.ContentType != "" {
		params.Set("content_type", query.ContentType)
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	for field, expected := range query.FieldEquals {
		key := "fields." + field
		if query.Locale != "" {
			key += "." + query.Locale
		}
		params.Set(key, expected)
	}

	var envelope struct {
		Items []*Entry `json:"items"`
	}
	if err := c.getJSON(ctx, c.envURL("entries"), params, &envelope, nil); err != nil {
		return nil, err
	}
	return envelope.Items, nil
}

func (c *HTTPClient) CreateEntry(ctx context.Context, contentTypeID string, fields Fields) (*Entry, error) {
	if strings.TrimSpace(contentTypeID) == "" {
		return nil, ErrContentTypeIDRequired
	}
	body := struct {
		Fields Fields `json:"fields"`
	}{Fields: fields}

	var entry Entry
	headers := map[string]string{headerContentTypeID: contentTypeID}
	if err := c.send(ctx, http.MethodPost, c.envURL("entries"), nil, headers, body, &entry, nil); err != nil {
		return nil, fmt.Errorf("cms: create entry: %w", err)
	}
	return &entry, nil
}

func (c *HTTPClient) UpdateEntry(ctx context.Context, entry *Entry) (*Entry, error) {
	if entry.ID() == "" {
		return nil, ErrEntryIDRequired
	}
	body := struct {
		Fields Fields `json:"fields"`
	}{Fields: entry.Fields}

	headers := map[string]string{headerVersion: strconv.Itoa(entry.Version())}
	if entry.ContentTypeID() != "" {
		headers[headerContentTypeID] = entry.ContentTypeID()
	}

	var updated Entry
	if err := c.send(ctx, http.MethodPut, c.envURL("entries", entry.ID()), nil, headers, body, &updated, ErrEntryNotFound); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *HTTPClient) DeleteEntry(ctx context.Context, id string, version int) error {
	if strings.TrimSpace(id) == "" {
		return ErrEntryIDRequired
	}
	headers := map[string]string{headerVersion: strconv.Itoa(version)}
	return c.send(ctx, http.MethodDelete, c.envURL("entries", id), nil, headers, nil, nil, ErrEntryNotFound)
}

func (c *HTTPClient) envURL(segments ...string) string {
	parts := []string{c.baseURL, "spaces", url.PathEscape(c.scope.SpaceID), "environments", url.PathEscape(c.scope.EnvironmentID)}
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(segment))
	}
	return strings.Join(parts, "/")
}

// getJSON performs a retried idempotent read.
func (c *HTTPClient) getJSON(ctx context.Context, rawURL string, params url.Values, out any, notFound error) error {
	call := func() error {
		return c.roundTrip(ctx, http.MethodGet, rawURL, params, nil, nil, out, notFound)
	}
	return retry.Call(retry.CallArgs{
		Func: call,
		IsFatalError: func(err error) bool {
			return !isTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Warn("cms read retry", "attempt", attempt, "url", rawURL, "error", err)
		},
		Attempts:    c.attempts,
		Delay:       c.delay,
		MaxDelay:    c.maxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clk,
		Stop:        ctx.Done(),
	})
}

// send performs a non-retried mutation.
func (c *HTTPClient) send(ctx context.Context, method, rawURL string, params url.Values, headers map[string]string, body, out any, notFound error) error {
	return c.roundTrip(ctx, method, rawURL, params, headers, body, out, notFound)
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, rawURL string, params url.Values, headers map[string]string, body, out any, notFound error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cms: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(callCtx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("cms: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", managementContentType)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return &transientError{err: err}
		}
		if ctx.Err() != nil {
			return err
		}
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{err: fmt.Errorf("cms: read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("cms: decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return notFound
	case resp.StatusCode == http.StatusConflict:
		return ErrVersionMismatch
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &transientError{err: newAPIError(resp.StatusCode, payload)}
	default:
		return newAPIError(resp.StatusCode, payload)
	}
}

// transientError marks failures worth retrying on idempotent reads.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var transient *transientError
	return errors.As(err, &transient)
}

// APIError carries a non-success management API response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cms: api responded %d", e.Status)
	}
	return fmt.Sprintf("cms: api responded %d: %s", e.Status, e.Message)
}

func newAPIError(status int, payload []byte) *APIError {
	apiErr := &APIError{Status: status}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		apiErr.Message = body.Message
	}
	return apiErr
}
