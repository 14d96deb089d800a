// Package session keeps server-side sessions alive. A Keeper posts periodic
// heartbeats and evicts the session client-side when failures cross the count
// or duration threshold; an evicted or server-expired session terminates the
// keeper and notifies the owner
package session

import (
	"context"
	"net/http"
	"time"

	"tinker/internal/adapters/api"
	perr "tinker/internal/platform/errors"
	"tinker/internal/platform/limits"
	"tinker/internal/platform/logger"
)

const (
	defaultInterval = 10 * time.Second

	// client-side eviction thresholds: either trips the session
	defaultMaxFailures        = 3
	defaultMaxFailureDuration = 60 * time.Second

	// warnAfter is how long heartbeats must keep failing before the keeper
	// warns, when the eviction thresholds are configured above it
	warnAfter = 120 * time.Second
)

type heartbeatRequest struct {
	SessionID string `json:"session_id"`
}

// Keeper heartbeats one session until stopped or evicted
type Keeper struct {
	client    *api.Client
	sessionID string
	interval  time.Duration
	onExpired func(error)
	log       logger.Logger

	maxFailures        int
	maxFailureDuration time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	// loop-local failure tracking; only touched by run
	consecutive  int
	firstFailure time.Time
	warned       bool

	// seams for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewKeeper builds a keeper for sessionID. onExpired is invoked at most once,
// from the keeper goroutine, when the session is evicted; it may be nil
func NewKeeper(client *api.Client, sessionID string, onExpired func(error)) *Keeper {
	return &Keeper{
		client:             client,
		sessionID:          sessionID,
		interval:           defaultInterval,
		onExpired:          onExpired,
		log:                *logger.Named("session"),
		maxFailures:        defaultMaxFailures,
		maxFailureDuration: defaultMaxFailureDuration,
		now:                time.Now,
		sleep:              limits.SleepCtx,
	}
}

// Start launches the heartbeat loop. It returns immediately
func (k *Keeper) Start(ctx context.Context) {
	ctx, k.cancel = context.WithCancel(ctx)
	k.done = make(chan struct{})
	go k.run(ctx)
}

// Stop terminates the loop and waits for it to exit
func (k *Keeper) Stop() {
	if k.cancel == nil {
		return
	}
	k.cancel()
	<-k.done
}

func (k *Keeper) run(ctx context.Context) {
	defer close(k.done)
	for {
		if err := k.sleep(ctx, k.interval); err != nil {
			return
		}
		if !k.beat(ctx) {
			return
		}
	}
}

// beat sends one heartbeat and returns false when the loop should stop
func (k *Keeper) beat(ctx context.Context) bool {
	body := heartbeatRequest{SessionID: k.sessionID}
	_, err := k.client.RoundTrip(ctx, api.PoolSession, http.MethodPost, "/session_heartbeat", nil, body)
	if err == nil {
		if k.consecutive > 0 {
			k.log.Info().
				Str("session_id", k.sessionID).
				Int("missed", k.consecutive).
				Msg("heartbeat recovered")
		}
		k.consecutive = 0
		k.firstFailure = time.Time{}
		k.warned = false
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	switch perr.StatusOf(err) {
	case http.StatusNotFound, http.StatusGone:
		return k.evict(err, "session evicted by server")
	}

	k.consecutive++
	if k.consecutive == 1 {
		k.firstFailure = k.now()
	}
	down := k.now().Sub(k.firstFailure)

	if k.consecutive >= k.maxFailures || down >= k.maxFailureDuration {
		return k.evict(err, "session evicted after sustained heartbeat failure")
	}

	if down >= warnAfter && !k.warned {
		k.warned = true
		k.log.Warn().
			Str("session_id", k.sessionID).
			Int("missed", k.consecutive).
			Dur("down", down).
			Msg("heartbeats failing; session may be evicted")
	} else {
		k.log.Debug().
			Str("session_id", k.sessionID).
			Int("missed", k.consecutive).
			Err(err).
			Msg("heartbeat failed")
	}
	return true
}

// evict stops the keeper permanently and notifies the owner once
func (k *Keeper) evict(err error, msg string) bool {
	k.log.Warn().
		Str("session_id", k.sessionID).
		Int("missed", k.consecutive).
		Err(err).
		Msg(msg)
	if k.onExpired != nil {
		k.onExpired(err)
	}
	return false
}
