package api

import (
	"context"
	"math/rand/v2"
	"time"

	perr "tinker/internal/platform/errors"
)

// WithRetry runs fn until it succeeds, returns a non-retryable error, exhausts
// MaxRetries, or makes no progress for ProgressTimeout. With MaxRetries 0 the
// attempt count is unbounded; the progress timeout is the only cutoff, so long
// server restarts are ridden out instead of failed
func (c *Client) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !c.cfg.RetryEnabled {
		return fn(ctx)
	}

	start := c.now()
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !perr.Retryable(err) {
			return err
		}
		if c.cfg.MaxRetries > 0 && attempt+1 >= c.cfg.MaxRetries {
			return err
		}

		delay := c.retryDelay(err, attempt)
		elapsed := c.now().Sub(start)
		if elapsed+delay > c.cfg.ProgressTimeout {
			return perr.Wrapf(err, perr.KindAPITimeout,
				"%s made no progress for %s", op, elapsed.Round(time.Second))
		}

		c.log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("retrying request")

		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// retryDelay picks the next wait: a server-requested delay verbatim, otherwise
// capped exponential back-off with +/-JitterPct uniform jitter
func (c *Client) retryDelay(err error, attempt int) time.Duration {
	if d, ok := perr.RetryAfterOf(err); ok {
		return d
	}
	d := c.cfg.RetryBase << uint(attempt) //nolint:gosec // attempt is small
	if d <= 0 || d > c.cfg.RetryMax {
		d = c.cfg.RetryMax
	}
	jitter := 1 + c.cfg.JitterPct*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}
