package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	perr "tinker/internal/platform/errors"
	"tinker/internal/platform/limits"
	"tinker/internal/platform/logger"
	pstr "tinker/internal/platform/strings"
)

const apiPrefix = "/api/v1"

// maxErrBody bounds how much of an error body is kept for diagnostics
const maxErrBody = 2048

// Client sends classified requests through the pooled transports.
// One Client per Config; safe for concurrent use
type Client struct {
	cfg    Config
	base   string // normalized
	window *limits.Window
	log    logger.Logger

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates the config and builds a client bound to its base URL's pools
// and rate-limit window
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := normalizeBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		base:   base,
		window: limits.WindowFor(base, cfg.APIKey),
		log:    *logger.Named("api"),
		now:    time.Now,
		sleep:  limits.SleepCtx,
	}, nil
}

// Config returns the immutable snapshot
func (c *Client) Config() Config { return c.cfg }

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() string { return c.base }

// Window returns the (base URL, credential)-scoped back-off window
func (c *Client) Window() *limits.Window { return c.window }

// RoundTrip performs a single classified attempt and returns the raw 2xx body.
// It waits on the client-side back-off window first
func (c *Client) RoundTrip(
	ctx context.Context, pool PoolType, method, path string, query url.Values, body any,
) ([]byte, error) {
	if err := c.window.Wait(ctx); err != nil {
		return nil, err
	}

	parent := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := c.buildRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}

	start := c.now()
	resp, err := poolClient(c.base, pool, c.cfg.Transport).Do(req)
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if ctx.Err() != nil {
			// per-request timeout fired while the caller is still live; a
			// retryable timeout, not a cancellation
			return nil, perr.Timeoutf("request exceeded %s timeout", c.cfg.Timeout)
		}
		return nil, perr.ConnectionWrap(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if c.cfg.DumpHeaders {
		c.log.Debug().Any("request_headers", req.Header).Any("response_headers", resp.Header).
			Str("path", path).Msg("header dump")
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Str("pool", string(pool)).
		Int("status", resp.StatusCode).
		Dur("latency", c.now().Sub(start)).
		Msg("http response")

	raw, err := readBody(resp)
	if err != nil {
		return nil, perr.ConnectionWrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyStatus(resp, raw)
	}
	return raw, nil
}

// Once performs a single attempt against an envelope-speaking endpoint
func (c *Client) Once(
	ctx context.Context, pool PoolType, path string, body any,
) (*Envelope, error) {
	raw, err := c.RoundTrip(ctx, pool, http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}
	return decodeEnvelope(raw)
}

// Do performs a retried request against a plain JSON endpoint, decoding the
// 2xx body into out (out may be nil)
func (c *Client) Do(
	ctx context.Context, pool PoolType, method, path string, query url.Values, body, out any, op string,
) error {
	return c.WithRetry(ctx, op, func(ctx context.Context) error {
		raw, err := c.RoundTrip(ctx, pool, method, path, query, body)
		if err != nil {
			return err
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return perr.Wrapf(err, perr.KindValidation, "decode %s response", op)
		}
		return nil
	})
}

// DoEnvelope performs a retried request against an envelope endpoint. The
// envelope itself (pending, try_again) is returned as-is; only classified
// retryable errors re-enter the loop
func (c *Client) DoEnvelope(
	ctx context.Context, pool PoolType, path string, body any, op string,
) (*Envelope, error) {
	var env *Envelope
	err := c.WithRetry(ctx, op, func(ctx context.Context) error {
		e, err := c.Once(ctx, pool, path, body)
		if err != nil {
			return err
		}
		env = e
		return nil
	})
	return env, err
}

// buildRequest assembles the URL, query, body, and outbound headers
func (c *Client) buildRequest(
	ctx context.Context, method, path string, query url.Values, body any,
) (*http.Request, error) {
	u := c.base + apiPrefix + path
	q := url.Values{}
	for k, vs := range c.cfg.DefaultQuery {
		q[k] = vs
	}
	for k, vs := range query {
		q[k] = vs
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, perr.Wrapf(err, perr.KindValidation, "encode request body")
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, perr.Wrapf(err, perr.KindValidation, "build request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.CFAccessClientID != "" {
		req.Header.Set("CF-Access-Client-Id", c.cfg.CFAccessClientID)
		req.Header.Set("CF-Access-Client-Secret", c.cfg.CFAccessClientSecret)
	}
	for k, vs := range c.cfg.DefaultHeaders {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	return req, nil
}

// readBody reads the full body, transparently inflating gzip.
// Accept-Encoding is set explicitly, so the transport does not auto-inflate
func readBody(resp *http.Response) ([]byte, error) {
	var rd io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		rd = gz
	}
	return io.ReadAll(rd)
}

// classifyStatus turns a non-2xx response into a classified error. 429s also
// arm the client-side back-off window from the server-requested delay
func (c *Client) classifyStatus(resp *http.Response, raw []byte) error {
	status := resp.StatusCode

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	msg := eb.Error.Message
	if msg == "" {
		msg = pstr.Truncate(string(raw), maxErrBody)
	}
	err := perr.Statusf(status, "api status %d: %s", status, msg)

	if eb.Error.Category != "" {
		err = perr.WithCategory(err, perr.ParseCategory(eb.Error.Category))
	}
	if d, ok := parseRetryAfter(resp.Header, &c.log); ok {
		err = perr.WithRetryAfter(err, d)
		if status == http.StatusTooManyRequests {
			c.window.Set(d)
		}
	}
	if hint := retryHint(resp.Header); hint != nil {
		err = perr.WithRetryHint(err, *hint)
	}
	if eb.QueueState != "" || eb.QueueStateReason != "" {
		err = perr.WithData(err, map[string]any{
			"queue_state":        eb.QueueState,
			"queue_state_reason": eb.QueueStateReason,
		})
	}
	return err
}
