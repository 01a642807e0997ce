package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/thywilljoshua/chart-context-study/internal/metrics"
	"github.com/thywilljoshua/chart-context-study/internal/retry"
)

const maxErrorBody = 512

// Client is a paced, retrying HTTP client bound to one remote repository.
type Client struct {
	name    string
	http    *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	header  http.Header
	metrics *metrics.Metrics
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Name        string
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
	Header      http.Header
	Metrics     *metrics.Metrics
	HTTPClient  *http.Client
	Backoff     time.Duration
}

// NewClient builds a Client. Requests are spaced at least Interval apart.
func NewClient(opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	backoff := opts.Backoff
	if backoff == 0 {
		backoff = 2 * time.Second
	}
	c := &Client{
		name:    opts.Name,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		header:  opts.Header,
		metrics: opts.Metrics,
	}
	c.policy = retry.Policy{
		MaxAttempts:    opts.MaxAttempts,
		InitialBackoff: backoff,
		MaxBackoff:     time.Minute,
		OnRetry: func(int, time.Duration, error) {
			c.metrics.Retry(c.name)
		},
	}
	return c
}

// do issues one paced GET and hands a 2xx response body to fn.
func (c *Client) do(ctx context.Context, url string, fn func(io.Reader) error) error {
	_, err := c.policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		err := c.once(ctx, url, fn)
		c.metrics.Attempt(c.name, err)
		return err
	})
	return err
}

func (c *Client) once(ctx context.Context, url string, fn func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &retry.StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return fn(resp.Body)
}

// GetBytes fetches url and returns the body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	var out []byte
	err := c.do(ctx, url, func(r io.Reader) error {
		b, err := io.ReadAll(r)
		out = b
		return err
	})
	return out, err
}

// GetJSON fetches url and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	return c.do(ctx, url, func(r io.Reader) error {
		if err := json.NewDecoder(r).Decode(v); err != nil {
			return fmt.Errorf("decode %s: %w", url, err)
		}
		return nil
	})
}

// DownloadTo streams url into f, truncating f before every attempt.
func (c *Client) DownloadTo(ctx context.Context, url string, f *os.File) error {
	return c.do(ctx, url, func(r io.Reader) error {
		if err := f.Truncate(0); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := io.Copy(f, r)
		return err
	})
}
