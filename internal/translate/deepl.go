package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/locsync/locsync/internal/logging"
	"github.com/locsync/locsync/pkg/interfaces"
)

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DeepLConfig captures the settings for the DeepL REST client.
type DeepLConfig struct {
	BaseURL       string
	APIKey        string
	CallTimeout   time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	CacheTTL      time.Duration
	CacheSize     int
}

// DeepLClient talks to the DeepL v2 REST API. Translation calls are issued
// exactly once; usage and language lookups are idempotent, so they are
// retried on transient failures and cached because they only feed the status
// endpoint.
type DeepLClient struct {
	baseURL  string
	apiKey   string
	doer     Doer
	logger   interfaces.Logger
	clk      clock.Clock
	timeout  time.Duration
	attempts int
	delay    time.Duration
	maxDelay time.Duration
	cache    *lru.LRU[string, any]
}

var _ Translator = (*DeepLClient)(nil)

const (
	cacheKeyUsage   = "usage"
	cacheKeySource  = "languages:source"
	cacheKeyTarget  = "languages:target"
	defaultCacheTTL = time.Hour
)

// DeepLOption customizes the DeepL client.
type DeepLOption func(*DeepLClient)

// WithDeepLDoer overrides the transport used for requests.
func WithDeepLDoer(doer Doer) DeepLOption {
	return func(c *DeepLClient) {
		if doer != nil {
			c.doer = doer
		}
	}
}

// WithDeepLLogger attaches a logger to the client.
func WithDeepLLogger(logger interfaces.Logger) DeepLOption {
	return func(c *DeepLClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDeepLClock overrides the clock driving retry backoff.
func WithDeepLClock(clk clock.Clock) DeepLOption {
	return func(c *DeepLClient) {
		if clk != nil {
			c.clk = clk
		}
	}
}

// NewDeepLClient constructs a DeepL REST client.
func NewDeepLClient(cfg DeepLConfig, opts ...DeepLOption) (*DeepLClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrAPIKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.deepl.com"
	}

	client := &DeepLClient{
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
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

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 8
	}
	client.cache = lru.NewLRU[string, any](size, nil, ttl)

	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Translate issues one translation call. It is never retried: the engine's
// keep-source fallback makes a duplicate charge worse than a miss.
func (c *DeepLClient) Translate(ctx context.Context, text, sourceLang, targetLang string, opts Options) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if strings.TrimSpace(targetLang) == "" {
		return "", ErrTargetLanguageRequired
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", strings.ToUpper(targetLang))
	if trimmed := strings.TrimSpace(sourceLang); trimmed != "" {
		form.Set("source_lang", strings.ToUpper(trimmed))
	}
	if opts.PreserveFormatting {
		form.Set("preserve_formatting", "1")
	}
	if opts.TagHandling != "" {
		form.Set("tag_handling", opts.TagHandling)
	}

	var envelope struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := c.postForm(ctx, "/v2/translate", form, &envelope); err != nil {
		return "", err
	}
	if len(envelope.Translations) == 0 {
		return "", errors.New("translate: provider returned no translations")
	}
	return envelope.Translations[0].Text, nil
}

// Usage reports quota consumption, cached for the configured TTL.
func (c *DeepLClient) Usage(ctx context.Context) (Usage, error) {
	if cached, ok := c.cache.Get(cacheKeyUsage); ok {
		return cached.(Usage), nil
	}
	var usage Usage
	if err := c.getJSON(ctx, "/v2/usage", nil, &usage); err != nil {
		return Usage{}, err
	}
	c.cache.Add(cacheKeyUsage, usage)
	return usage, nil
}

// SourceLanguages lists the languages the provider translates from.
func (c *DeepLClient) SourceLanguages(ctx context.Context) ([]Language, error) {
	return c.languages(ctx, "source", cacheKeySource)
}

// TargetLanguages lists the languages the provider translates into.
func (c *DeepLClient) TargetLanguages(ctx context.Context) ([]Language, error) {
	return c.languages(ctx, "target", cacheKeyTarget)
}

func (c *DeepLClient) languages(ctx context.Context, kind, cacheKey string) ([]Language, error) {
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]Language), nil
	}
	params := url.Values{}
	params.Set("type", kind)

	var languages []Language
	if err := c.getJSON(ctx, "/v2/languages", params, &languages); err != nil {
		return nil, err
	}
	c.cache.Add(cacheKey, languages)
	return languages, nil
}

// getJSON performs a retried idempotent read.
func (c *DeepLClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	call := func() error {
		return c.roundTrip(ctx, http.MethodGet, path, params, nil, out)
	}
	return retry.Call(retry.CallArgs{
		Func: call,
		IsFatalError: func(err error) bool {
			return !isTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Warn("translator read retry", "attempt", attempt, "path", path, "error", err)
		},
		Attempts:    c.attempts,
		Delay:       c.delay,
		MaxDelay:    c.maxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clk,
		Stop:        ctx.Done(),
	})
}

func (c *DeepLClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.roundTrip(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), out)
}

func (c *DeepLClient) roundTrip(ctx context.Context, method, path string, params url.Values, body io.Reader, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rawURL := c.baseURL + path
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(callCtx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("translate: build request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transientError{err: fmt.Errorf("translate: read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("translate: decode response: %w", err)
		}
		return nil
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

// APIError carries a non-success provider response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("translate: api responded %d", e.Status)
	}
	return fmt.Sprintf("translate: api responded %d: %s", e.Status, e.Message)
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
