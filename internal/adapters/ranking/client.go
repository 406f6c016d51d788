// Package ranking fetches division leaderboards from the external ranking API.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const (
	defaultTimeout = 10 * time.Second
	// maxBodyBytes bounds a single leaderboard response.
	maxBodyBytes = 64 << 20
)

// Client is a rate-limited HTTP client for GetDivisionLeaderboard.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     logger.Logger
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request including reading the body. A client
// passed to WithHTTPClient is copied, not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

// WithRateLimit caps outbound requests per second. Non-positive disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a client for the division leaderboard endpoint at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		log:     logger.NewNop(),
		tracer:  otel.Tracer("github.com/okian/ladder/internal/adapters/ranking"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves the current leaderboard of region. Non-2xx responses,
// transport errors and undecodable bodies return a *FetchError.
func (c *Client) Fetch(ctx context.Context, region string) (model.Leaderboard, error) {
	ctx, span := c.tracer.Start(ctx, "ranking.Fetch", trace.WithAttributes(attribute.String("region", region)))
	defer span.End()

	start := time.Now()
	lb, err := c.fetch(ctx, region)
	metrics.RecordFetchLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordFetchError()
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return model.Leaderboard{}, err
	}

	span.SetAttributes(attribute.Int("records", len(lb.Leaderboard)), attribute.Int64("time_posted", lb.TimePosted))
	c.log.Debug(ctx, "leaderboard fetched",
		logger.String("region", region),
		logger.Int("records", len(lb.Leaderboard)),
		logger.Duration("took", time.Since(start)),
	)
	return lb, nil
}

func (c *Client) fetch(ctx context.Context, region string) (model.Leaderboard, error) {
	fail := func(status int, err error) (model.Leaderboard, error) {
		return model.Leaderboard{}, &FetchError{Region: region, StatusCode: status, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(0, err)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fail(0, err)
	}
	q := u.Query()
	q.Set("division", region)
	q.Set("leaderboard", "0")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fail(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	var lb model.Leaderboard
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&lb); err != nil {
		return fail(resp.StatusCode, fmt.Errorf("decode body: %w", err))
	}
	return lb, nil
}
