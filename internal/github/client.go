// Package github talks to the GitHub API and raw content host for
// ownership verification and repository statistics.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/mpak-dev/mpak-registry/internal/log"
)

var (
	ErrNotFound     = errors.New("github resource not found")
	ErrRateLimited  = errors.New("rate limited by github")
	ErrUpstreamDown = errors.New("github unavailable")
)

const (
	defaultAPIBase = "https://api.github.com"
	defaultRawBase = "https://raw.githubusercontent.com"
	maxBodySize    = 1 << 20 // raw files we fetch are tiny; cap reads anyway
)

// Client is a hardened HTTP client for GitHub: cached DNS resolution,
// exponential-backoff retries on transient failures, and a circuit
// breaker per host so a GitHub outage degrades to fast failures instead
// of piling up blocked requests.
type Client struct {
	http      *http.Client
	userAgent string
	token     string
	apiBase   string
	rawBase   string

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the API token used for api.github.com requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithBaseURLs overrides the API and raw-content hosts, for tests.
func WithBaseURLs(apiBase, rawBase string) Option {
	return func(c *Client) {
		c.apiBase = apiBase
		c.rawBase = rawBase
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(opts ...Option) *Client {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP for %s", host)
				},
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: "mpak-registry/1.0",
		apiBase:   defaultAPIBase,
		rawBase:   defaultRawBase,
		breakers:  make(map[string]*circuit.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get fetches a URL with retries inside the host's circuit breaker and
// returns the response body. ErrNotFound is returned without retrying.
func (c *Client) get(ctx context.Context, rawURL string, authed bool) ([]byte, error) {
	breaker := c.breaker(hostOf(rawURL))
	if !breaker.Ready() {
		return nil, fmt.Errorf("circuit open for %s: %w", hostOf(rawURL), ErrUpstreamDown)
	}

	var body []byte
	err := breaker.Call(func() error {
		op := func() error {
			var err error
			body, err = c.doGet(ctx, rawURL, authed)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamDown):
				log.Warn(log.CatGitHub, "Transient fetch failure, retrying", "url", rawURL, "error", err.Error())
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 500 * time.Millisecond
		bo.MaxElapsedTime = 15 * time.Second
		return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
	}, 0)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, rawURL string, authed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if authed && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden:
		// GitHub reports rate limiting as 403 with a ratelimit header,
		// but treating all 403s as retryable-later is good enough here.
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, ErrUpstreamDown
	default:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
}

func (c *Client) breaker(host string) *circuit.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 30 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.Reset()
	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    bo,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = b
	return b
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
