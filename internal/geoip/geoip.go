// Package geoip guesses the machine's country and time zone from its egress
// address. Stages consume the cached result to prime mirror selection and to
// resolve a "geoip" time zone request; lookups are best-effort and failures
// leave the cache empty.
package geoip

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/provisionhq/stagehand/api/pkg/logger"
)

// DefaultLookupURL is the public endpoint the HTTP strategy queries.
const DefaultLookupURL = "https://geoip.ubuntu.com/lookup"

var defaultHTTPClient = newRetryableHTTPClient()

func newRetryableHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return c
}

// Result is the subset of the lookup response the installer consumes.
type Result struct {
	XMLName     xml.Name `xml:"Response"`
	CountryCode string   `xml:"CountryCode"`
	TimeZone    string   `xml:"TimeZone"`
}

// Strategy fetches the raw lookup response body.
type Strategy interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// HTTPStrategy queries the lookup endpoint with retries.
type HTTPStrategy struct {
	url        string
	httpClient *retryablehttp.Client
}

type HTTPOption func(*HTTPStrategy)

// WithLookupURL overrides the lookup endpoint.
func WithLookupURL(url string) HTTPOption {
	return func(s *HTTPStrategy) {
		s.url = url
	}
}

// WithHTTPClient overrides the retryable client.
func WithHTTPClient(httpClient *retryablehttp.Client) HTTPOption {
	return func(s *HTTPStrategy) {
		s.httpClient = httpClient
	}
}

// NewHTTPStrategy returns a strategy querying DefaultLookupURL unless
// overridden.
func NewHTTPStrategy(opts ...HTTPOption) *HTTPStrategy {
	s := &HTTPStrategy{
		url:        DefaultLookupURL,
		httpClient: defaultHTTPClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPStrategy) Fetch(ctx context.Context) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

// StaticStrategy returns a canned response. Dry runs use it to avoid
// touching the network.
type StaticStrategy struct {
	Response []byte
}

func (s *StaticStrategy) Fetch(ctx context.Context) ([]byte, error) {
	return s.Response, nil
}

// Client performs the lookup once and caches the parsed result.
type Client struct {
	logger   logrus.FieldLogger
	strategy Strategy

	mu     sync.Mutex
	result *Result
}

type Option func(*Client)

// WithLogger sets the logger used for lookup diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = log
	}
}

// WithStrategy overrides how the raw response is fetched.
func WithStrategy(strategy Strategy) Option {
	return func(c *Client) {
		c.strategy = strategy
	}
}

// New returns a client using the HTTP strategy unless overridden.
func New(opts ...Option) *Client {
	c := &Client{
		logger:   logger.NewDiscardLogger(),
		strategy: NewHTTPStrategy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup fetches and parses the lookup response. The first successful result
// is cached; later calls return it without refetching.
func (c *Client) Lookup(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.result != nil {
		return c.result, nil
	}

	body, err := c.strategy.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch lookup response: %w", err)
	}

	var result Result
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse lookup response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"country_code": result.CountryCode,
		"time_zone":    result.TimeZone,
	}).Debug("geoip lookup succeeded")

	c.result = &result
	return c.result, nil
}

// CountryCode returns the cached two-letter code, lowercased, or "" before a
// successful lookup.
func (c *Client) CountryCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return ""
	}
	return strings.ToLower(c.result.CountryCode)
}

// TimeZone returns the cached zone name, or "" before a successful lookup.
func (c *Client) TimeZone() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return ""
	}
	return c.result.TimeZone
}
