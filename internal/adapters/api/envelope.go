package api

import (
	"encoding/json"
	"time"

	perr "tinker/internal/platform/errors"
	"tinker/types"
)

// Envelope statuses on the wire
const (
	statusCompleted = "completed"
	statusPending   = "pending"
	statusTryAgain  = "try_again"
)

// TryAgainInfo is the non-terminal response variant instructing the client to
// wait and poll again
type TryAgainInfo struct {
	RequestID        string `json:"request_id"`
	QueueState       string `json:"queue_state"`
	QueueStateReason string `json:"queue_state_reason,omitempty"`
	RetryAfterMS     *int64 `json:"retry_after_ms,omitempty"`
}

// State maps the wire queue state onto the known set
func (t *TryAgainInfo) State() types.QueueState { return types.ParseQueueState(t.QueueState) }

// RetryAfter returns the envelope-requested delay and whether one was set
func (t *TryAgainInfo) RetryAfter() (time.Duration, bool) {
	if t.RetryAfterMS == nil {
		return 0, false
	}
	return time.Duration(*t.RetryAfterMS) * time.Millisecond, true
}

// Envelope is the tagged variant every operation endpoint speaks:
// terminal result, pending future handle, or a try-again instruction
type Envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`

	// try_again fields, flattened on the wire
	QueueState       string `json:"queue_state,omitempty"`
	QueueStateReason string `json:"queue_state_reason,omitempty"`
	RetryAfterMS     *int64 `json:"retry_after_ms,omitempty"`
}

// Terminal reports whether the envelope carries a final result
func (e *Envelope) Terminal() bool { return e.Status == statusCompleted }

// Pending reports whether the envelope is a future handle to poll
func (e *Envelope) Pending() bool { return e.Status == statusPending }

// TryAgain returns the try-again variant, or nil
func (e *Envelope) TryAgain() *TryAgainInfo {
	if e.Status != statusTryAgain {
		return nil
	}
	return &TryAgainInfo{
		RequestID:        e.RequestID,
		QueueState:       e.QueueState,
		QueueStateReason: e.QueueStateReason,
		RetryAfterMS:     e.RetryAfterMS,
	}
}

// Decode unmarshals the terminal result into out
func (e *Envelope) Decode(out any) error {
	if !e.Terminal() {
		return perr.Validationf("envelope status %q has no result", e.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(e.Result, out); err != nil {
		return perr.Wrapf(err, perr.KindValidation, "decode result payload")
	}
	return nil
}

// decodeEnvelope parses a 2xx body into an Envelope.
// A decode failure on a 2xx is a validation error, never retried
func decodeEnvelope(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, perr.Wrapf(err, perr.KindValidation, "decode response envelope")
	}
	if e.Status == "" {
		return nil, perr.Validationf("response envelope missing status")
	}
	return &e, nil
}

// errorBody is the JSON shape of non-2xx responses. category, when present,
// overrides the status-class default; queue_state fields surface on 429s
type errorBody struct {
	Error struct {
		Message  string `json:"message"`
		Category string `json:"category,omitempty"`
	} `json:"error"`
	QueueState       string `json:"queue_state,omitempty"`
	QueueStateReason string `json:"queue_state_reason,omitempty"`
}
