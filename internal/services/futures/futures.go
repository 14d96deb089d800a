// Package futures polls pending requests until they resolve. One Await loop
// runs per outstanding request; transitions between queue states are surfaced
// to an observer rather than logged on every poll
package futures

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"time"

	"tinker/internal/adapters/api"
	perr "tinker/internal/platform/errors"
	"tinker/internal/platform/limits"
	"tinker/internal/platform/logger"
	"tinker/types"
)

// poll back-off used when the server does not request a delay: capped
// exponential, reset whenever the request makes progress
const (
	pollBase   = 500 * time.Millisecond
	pollMax    = 10 * time.Second
	pollJitter = 0.25
)

// pollDelay is the capped exponential back-off with +/-pollJitter uniform
// jitter, mirroring the transport retry delay
func pollDelay(attempt int) time.Duration {
	d := pollBase << uint(attempt) //nolint:gosec // attempt is small
	if d <= 0 || d > pollMax {
		d = pollMax
	}
	jitter := 1 + pollJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * jitter)
}

// Handle identifies one pending request. Request carries the original payload
// so the server can recompute the answer if it lost the result
type Handle struct {
	RequestID string
	SessionID string
	Request   any
	Op        string
}

// Poller drives pending requests to completion over the futures pool
type Poller struct {
	client   *api.Client
	observer types.Observer
	log      logger.Logger

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a poller. observer may be nil
func New(client *api.Client, observer types.Observer) *Poller {
	return &Poller{
		client:   client,
		observer: observer,
		log:      *logger.Named("futures"),
		now:      time.Now,
		sleep:    limits.SleepCtx,
	}
}

type retrieveRequest struct {
	RequestID string `json:"request_id"`
	Request   any    `json:"request,omitempty"`
}

// Await polls h until a terminal result arrives and returns the raw payload.
// A request that sits in the same queue state past the configured progress
// timeout fails with a timeout error; any state transition resets the clock
func (p *Poller) Await(ctx context.Context, h Handle) (json.RawMessage, error) {
	ctx = logger.WithRequest(ctx, h.RequestID, h.SessionID)
	body := retrieveRequest{RequestID: h.RequestID, Request: h.Request}
	progressTimeout := p.client.Config().ProgressTimeout

	var (
		lastState  types.QueueState
		lastReason string
		seen       bool
		attempt    int
	)
	lastProgress := p.now()

	for {
		var delay time.Duration

		env, err := p.client.Once(ctx, api.PoolFutures, "/future/retrieve", body)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// request timeouts and transient failures keep the poll alive;
			// anything non-retryable is final
			if perr.StatusOf(err) != http.StatusRequestTimeout && !perr.Retryable(err) {
				return nil, perr.WithOp(err, h.Op)
			}
			if d, ok := perr.RetryAfterOf(err); ok {
				delay = d
			}

		case env.Terminal():
			return env.Result, nil

		default:
			ta := env.TryAgain()
			if ta == nil {
				// plain pending, no queue detail
				break
			}
			state, reason := ta.State(), ta.QueueStateReason
			if !seen || state != lastState || reason != lastReason {
				seen, lastState, lastReason = true, state, reason
				lastProgress = p.now()
				attempt = 0
				p.emit(ctx, h, state, reason)
			}
			if d, ok := ta.RetryAfter(); ok {
				delay = d
			}
		}

		// a server-requested delay is used verbatim; otherwise back off
		if delay == 0 {
			delay = pollDelay(attempt)
			attempt++
		}

		if waited := p.now().Sub(lastProgress); waited+delay > progressTimeout {
			return nil, perr.WithOp(perr.Timeoutf(
				"request %s made no progress for %s", h.RequestID, waited.Round(time.Second)), h.Op)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// AwaitInto polls h and decodes the terminal payload into out
func (p *Poller) AwaitInto(ctx context.Context, h Handle, out any) error {
	raw, err := p.Await(ctx, h)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return perr.WithOp(perr.Wrapf(err, perr.KindValidation, "decode %s result", h.Op), h.Op)
	}
	return nil
}

// emit notifies the observer and logs pauses. Transitions back to active are
// emitted but kept out of the logs
func (p *Poller) emit(ctx context.Context, h Handle, state types.QueueState, reason string) {
	if p.observer != nil {
		p.observer.ObserveQueueState(types.QueueStateObservation{
			State:     state,
			Reason:    reason,
			RequestID: h.RequestID,
			SessionID: h.SessionID,
		})
	}
	if state != types.QueueStateActive {
		logger.C(ctx).Warn().
			Str("op", h.Op).
			Str("queue_state", string(state)).
			Str("queue_state_reason", reason).
			Msg("request queue paused")
	}
}
