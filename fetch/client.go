// Package fetch builds cache fetchers over HTTP JSON endpoints. Server
// errors, 429 and transport failures are retried with exponential backoff;
// other 4xx answers fail at once.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KOMKZ/habitcache/cache"
	"github.com/KOMKZ/habitcache/logger"
)

const (
	maxBodyBytes = 8 << 20
	tracerName   = "github.com/KOMKZ/habitcache/fetch"
)

type Client struct {
	http   *http.Client
	cfg    *config
	tracer trace.Tracer
}

func NewClient(opts ...Option) *Client {
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.NewNop()
	}
	transport := cfg.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.GetTracerProvider()
	}
	return &Client{
		http:   &http.Client{Transport: transport},
		cfg:    cfg,
		tracer: cfg.tracer.Tracer(tracerName),
	}
}

// Fetcher returns a cache.Fetcher that GETs url and yields the body as
// json.RawMessage, so the engine stores it without a decode round trip.
func (c *Client) Fetcher(url string) cache.Fetcher {
	return func(ctx context.Context) (any, error) {
		body, err := c.Do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(body), nil
	}
}

// JSON returns a typed fetcher for cache.Typed.
func JSON[V any](c *Client, url string) func(ctx context.Context) (V, error) {
	return func(ctx context.Context) (V, error) {
		var v V
		body, err := c.Do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return v, err
		}
		if err := json.Unmarshal(body, &v); err != nil {
			return v, ErrDecode.WithData("url", url).Wrap(err)
		}
		return v, nil
	}
}

// Post sends payload as JSON and returns the response body. It fits
// mutation commits.
func (c *Client) Post(ctx context.Context, url string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrRequest.WithData("url", url).Wrap(err)
	}
	return c.Do(ctx, http.MethodPost, url, data)
}

// Do runs the request with retries and returns a body that is valid JSON
// (an empty body becomes "null").
func (c *Client) Do(ctx context.Context, method, url string, body []byte) (json.RawMessage, error) {
	full := c.resolve(url)
	host := hostOf(full)
	ctx, span := c.tracer.Start(ctx, "HTTP "+method, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", full),
		attribute.String("server.address", host),
	))
	defer span.End()
	if err := c.cfg.breaker.Allow(host); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "circuit open")
		c.cfg.log.WarnCtx(ctx, "fetch skipped, circuit open", zap.String("url", full))
		return nil, err
	}
	attempt := 0
	// upstreamDown tracks whether the last attempt failed on the server
	// side; 4xx answers prove the host is reachable.
	upstreamDown := false

	op := func() ([]byte, error) {
		attempt++
		res, err := c.once(ctx, method, full, body)
		var perm *backoff.PermanentError
		upstreamDown = err != nil && !errors.As(err, &perm)
		return res, err
	}
	notify := func(err error, wait time.Duration) {
		c.cfg.log.WarnCtx(ctx, "fetch attempt failed, retrying",
			zap.String("url", full),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	res, err := backoff.RetryNotifyWithData(op, c.backOff(ctx), notify)
	if ctx.Err() == nil {
		c.cfg.breaker.Record(host, upstreamDown)
	}
	span.SetAttributes(attribute.Int("habitcache.fetch.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.cfg.log.ErrorCtx(ctx, "fetch failed", zap.String("url", full), zap.Int("attempts", attempt), zap.Error(err))
		return nil, err
	}
	if len(bytes.TrimSpace(res)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(res) {
		return nil, ErrDecode.WithData("url", full)
	}
	return json.RawMessage(res), nil
}

func (c *Client) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.initialInterval
	exp.MaxInterval = c.cfg.maxInterval
	exp.MaxElapsedTime = c.cfg.maxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.maxRetries), ctx)
}

func (c *Client) resolve(url string) string {
	if c.cfg.baseURL == "" || strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return url
	}
	return strings.TrimRight(c.cfg.baseURL, "/") + "/" + strings.TrimLeft(url, "/")
}

// once performs a single attempt. Errors that must not be retried are
// wrapped in backoff.Permanent.
func (c *Client) once(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if c.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.timeout)
		defer cancel()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, backoff.Permanent(ErrRequest.WithData("url", url).Wrap(err))
	}
	for k, v := range c.cfg.headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.beforeRequest != nil {
		if err := c.cfg.beforeRequest(req); err != nil {
			return nil, backoff.Permanent(ErrRequest.WithData("url", url).Wrap(err))
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ErrRequest.WithData("url", url).Wrap(err)
	}
	defer resp.Body.Close()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, ErrRequest.WithData("url", url).Wrap(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		serr := ErrStatus.
			WithMsgf("upstream returned %d", resp.StatusCode).
			WithData("status", resp.StatusCode).
			WithData("url", url).
			Wrap(fmt.Errorf("%s: %s", resp.Status, truncate(data, 256)))
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}
	return data, nil
}

func hostOf(raw string) string {
	u, err := neturl.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
