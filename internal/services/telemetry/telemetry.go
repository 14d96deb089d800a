// Package telemetry reports client-side events on a best-effort basis.
// Reporting rides its own connection pool and never blocks or fails a caller
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"tinker/internal/adapters/api"
	"tinker/internal/platform/logger"
)

// sendTimeout bounds one report; a slow collector must not pin goroutines
const sendTimeout = 5 * time.Second

// Event is one client-side occurrence worth reporting
type Event struct {
	EventID    string         `json:"event_id"`
	Kind       string         `json:"kind"`
	SessionID  string         `json:"session_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Reporter ships events asynchronously. The zero value is unusable; build one
// with NewReporter
type Reporter struct {
	client *api.Client
	log    logger.Logger
	wg     sync.WaitGroup
}

// NewReporter wraps client for event reporting
func NewReporter(client *api.Client) *Reporter {
	return &Reporter{client: client, log: *logger.Named("telemetry")}
}

// Report ships one event in the background. Panics in event assembly and
// delivery failures are logged and swallowed
func (r *Reporter) Report(kind, sessionID string, fields map[string]any) {
	ev := Event{
		EventID:    uuid.NewString(),
		Kind:       kind,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		Fields:     fields,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error().
					Str("event_kind", ev.Kind).
					Str("panic", fmt.Sprint(rec)).
					Msg("telemetry report panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_, err := r.client.RoundTrip(ctx, api.PoolTelemetry, http.MethodPost, "/telemetry", nil, ev)
		if err != nil {
			r.log.Debug().
				Str("event_kind", ev.Kind).
				Err(err).
				Msg("telemetry report dropped")
		}
	}()
}

// Flush waits for all in-flight reports
func (r *Reporter) Flush() { r.wg.Wait() }
