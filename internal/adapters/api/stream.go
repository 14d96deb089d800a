package api

import (
	"context"
	"io"
	"net/url"

	perr "tinker/internal/platform/errors"
)

// Stream performs a single attempt and hands back the live 2xx body instead of
// reading it. No per-request timeout is applied; the caller's context bounds
// the stream lifetime. The caller owns closing the body
func (c *Client) Stream(
	ctx context.Context, pool PoolType, method, path string, query url.Values, body any,
) (io.ReadCloser, error) {
	if err := c.window.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := c.buildRequest(ctx, method, path, query, body)
	if err != nil {
		return nil, err
	}
	// gzip would buffer the event stream at proxies; ask for identity
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := poolClient(c.base, pool, c.cfg.Transport).Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, perr.ConnectionWrap(err, "stream request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, rerr := readBody(resp)
		_ = resp.Body.Close()
		if rerr != nil {
			return nil, perr.ConnectionWrap(rerr, "read stream error body")
		}
		return nil, c.classifyStatus(resp, raw)
	}
	return resp.Body, nil
}
