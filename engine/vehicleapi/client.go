// Package vehicleapi is the HTTP client for the vehicle-data API that feeds
// the comparison form's option lists.
package vehicleapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-compare/engine/cascade"
	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/pkg/metrics"
	"github.com/WessleyAI/wessley-compare/pkg/mid"
	"github.com/WessleyAI/wessley-compare/pkg/resilience"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "wessley-compare/1.0"
	maxBodyBytes     = 4 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration // per request, 0 → 10s
	Rate      float64       // requests per second, 0 → unlimited
	Burst     int
	UserAgent string
	Breaker   resilience.BreakerOpts
	// Transport is the innermost round tripper; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
	Metrics   *metrics.Registry
}

// Client fetches option lists. It implements cascade.Fetcher.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *slog.Logger
	reg     *metrics.Registry
}

var _ cascade.Fetcher = (*Client)(nil)

// New creates a Client for the API at cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("vehicleapi: base url %q must be http(s)", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "vehicleapi")

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		base: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: mid.Chain(cfg.Transport, mid.OTel(), mid.UserAgent(cfg.UserAgent), mid.Logger(log)),
		},
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
		reg:     cfg.Metrics,
	}

	opts := cfg.Breaker
	opts.Counts = countsAgainstBreaker
	user := opts.OnStateChange
	opts.OnStateChange = func(from, to resilience.State) {
		log.Warn("circuit breaker state change", "from", from.String(), "to", to.String())
		if c.reg != nil {
			c.reg.Gauge("vehicleapi_breaker_open", "1 while the API circuit breaker rejects calls").Set(boolGauge(to == resilience.StateOpen))
		}
		if user != nil {
			user(from, to)
		}
	}
	c.breaker = resilience.NewBreaker(opts)
	return c, nil
}

// countsAgainstBreaker trips the breaker on transport failures and 5xx only;
// a 404 for an unknown make says nothing about the API's health.
func countsAgainstBreaker(err error) bool {
	var fe *domain.FetchError
	if errors.As(err, &fe) && errors.Is(fe.Kind, domain.ErrStatus) {
		return fe.Status >= 500
	}
	return errors.Is(err, domain.ErrTransport)
}

func boolGauge(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// FetchOptions GETs req.Path and decodes the option list. Failures are
// *domain.FetchError values of kind ErrTransport, ErrStatus or
// ErrMalformedPayload.
func (c *Client) FetchOptions(ctx context.Context, req cascade.Request) ([]cascade.Option, error) {
	body, err := c.get(ctx, req.Path)
	if err != nil {
		return nil, err
	}
	opts, err := DecodeOptions(body, req.Keys)
	if err != nil {
		if c.reg != nil {
			c.reg.Counter("vehicleapi_malformed_payloads_total", "2xx responses whose body could not be decoded").Inc()
		}
		return nil, &domain.FetchError{Path: req.Path, Kind: domain.ErrMalformedPayload, Err: err}
	}
	return opts, nil
}

// get performs one GET through the limiter and breaker and returns the body
// of a 2xx response.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{Path: path, Kind: domain.ErrTransport, Err: err}
	}

	var body []byte
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
		if err != nil {
			return &domain.FetchError{Path: path, Kind: domain.ErrTransport, Err: err}
		}
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			c.count("error")
			return &domain.FetchError{Path: path, Kind: domain.ErrTransport, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
			c.count(fmt.Sprintf("%d", resp.StatusCode))
			return &domain.FetchError{Path: path, Status: resp.StatusCode, Kind: domain.ErrStatus}
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			c.count("error")
			return &domain.FetchError{Path: path, Status: resp.StatusCode, Kind: domain.ErrTransport, Err: err}
		}
		c.count(fmt.Sprintf("%d", resp.StatusCode))
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		c.count("rejected")
		return nil, &domain.FetchError{Path: path, Kind: domain.ErrTransport, Err: err}
	}
	return body, err
}

func (c *Client) count(result string) {
	if c.reg == nil {
		return
	}
	c.reg.Counter(metrics.WithLabels("vehicleapi_requests_total", "result", result), "Vehicle API requests by status code or failure").Inc()
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }
