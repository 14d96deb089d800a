// Package sampling dispatches sample requests through the admission limiter
// and resolves them via the future poller
package sampling

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"tinker/internal/adapters/api"
	"tinker/internal/core/estimate"
	perr "tinker/internal/platform/errors"
	"tinker/internal/platform/logger"
	"tinker/internal/services/futures"
	"tinker/types"
)

const (
	// smallRequestBytes splits the two post-429 back-off regimes: small
	// requests recover fast, large ones wait out the congested period
	smallRequestBytes = 128 << 10

	smallBackoff = time.Second
	largeBackoff = 5 * time.Second

	opSample       = "Sample"
	opSampleStream = "SampleStream"
)

// Reporter receives one event per dispatched operation. Implementations must
// not block; may be nil
type Reporter interface {
	Report(kind, sessionID string, fields map[string]any)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request is one sample dispatch
type Request struct {
	Prompt             types.ModelInput
	NumSamples         int
	Params             types.SamplingParams
	PromptLogprobs     bool
	TopkPromptLogprobs int
}

type sampleRequest struct {
	SessionID          string               `json:"session_id"`
	ModelPath          string               `json:"model_path,omitempty"`
	Prompt             types.ModelInput     `json:"prompt"`
	NumSamples         int                  `json:"num_samples"`
	Params             types.SamplingParams `json:"sampling_params"`
	PromptLogprobs     bool                 `json:"prompt_logprobs,omitempty"`
	TopkPromptLogprobs int                  `json:"topk_prompt_logprobs,omitempty"`
}

// Service is a sampling session bound to one model path
type Service struct {
	client   *api.Client
	poller   *futures.Poller
	limiter  *Limiter
	observer types.Observer
	tel      Reporter
	log      logger.Logger

	sessionID string
	modelPath string
}

// NewService binds a sampling session. limiter is shared across all sessions of
// one client so rate limits throttle them together; observer and tel may be nil
func NewService(
	client *api.Client, poller *futures.Poller, limiter *Limiter, observer types.Observer, tel Reporter,
	sessionID, modelPath string,
) *Service {
	return &Service{
		client:    client,
		poller:    poller,
		limiter:   limiter,
		observer:  observer,
		tel:       tel,
		log:       *logger.Named("sampling"),
		sessionID: sessionID,
		modelPath: modelPath,
	}
}

// report ships one per-operation event tagged with the session and model path
func (s *Service) report(op string) {
	if s.tel == nil {
		return
	}
	s.tel.Report("sampling_op", s.sessionID, map[string]any{
		"op":    op,
		"model": s.modelPath,
	})
}

// SessionID returns the bound session
func (s *Service) SessionID() string { return s.sessionID }

// Sample dispatches req and blocks until the result is ready. Dispatch holds
// the limiter; polling for a pending result does not
func (s *Service) Sample(ctx context.Context, req Request) (*types.SampleResult, error) {
	if req.NumSamples <= 0 {
		req.NumSamples = 1
	}
	if err := validate.Struct(req.Params); err != nil {
		return nil, perr.Wrapf(err, perr.KindValidation, "invalid sampling params")
	}
	s.report(opSample)

	body := sampleRequest{
		SessionID:          s.sessionID,
		ModelPath:          s.modelPath,
		Prompt:             req.Prompt,
		NumSamples:         req.NumSamples,
		Params:             req.Params,
		PromptLogprobs:     req.PromptLogprobs,
		TopkPromptLogprobs: req.TopkPromptLogprobs,
	}
	nbytes := estimate.ModelInput(req.Prompt)

	var env *api.Envelope
	err := s.client.WithRetry(ctx, opSample, func(ctx context.Context) error {
		return s.limiter.WithRateLimit(ctx, nbytes, func(ctx context.Context) error {
			e, err := s.client.Once(ctx, api.PoolSampling, "/asample", body)
			if err != nil {
				s.noteRateLimit(ctx, err, nbytes)
				return err
			}
			if ta := e.TryAgain(); ta != nil {
				return s.noteTryAgain(ctx, ta, nbytes)
			}
			env = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	var out types.SampleResult
	if env.Terminal() {
		if err := env.Decode(&out); err != nil {
			return nil, perr.WithOp(err, opSample)
		}
		return &out, nil
	}
	h := futures.Handle{RequestID: env.RequestID, SessionID: s.sessionID, Request: body, Op: opSample}
	if err := s.poller.AwaitInto(ctx, h, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ComputeLogprobs scores the prompt under the model without generating:
// a single one-token sample with prompt logprobs requested
func (s *Service) ComputeLogprobs(ctx context.Context, prompt types.ModelInput) ([]float64, error) {
	res, err := s.Sample(ctx, Request{
		Prompt:         prompt,
		NumSamples:     1,
		Params:         types.SamplingParams{MaxTokens: 1},
		PromptLogprobs: true,
	})
	if err != nil {
		return nil, err
	}
	return res.PromptLogprobs, nil
}

// noteRateLimit arms the limiter back-off on a 429 and surfaces the queue
// state. The error passes through untouched so the retry executor decides
func (s *Service) noteRateLimit(ctx context.Context, err error, nbytes int64) {
	if perr.StatusOf(err) != 429 {
		return
	}
	s.limiter.SetBackoff(backoffFor(nbytes))
	e, ok := perr.As(err)
	if !ok {
		return
	}
	state, _ := e.Data()["queue_state"].(string)
	reason, _ := e.Data()["queue_state_reason"].(string)
	if state != "" {
		s.emit(ctx, types.ParseQueueState(state), reason)
	}
}

// noteTryAgain converts a queued dispatch into a retryable error carrying the
// server-requested delay
func (s *Service) noteTryAgain(ctx context.Context, ta *api.TryAgainInfo, nbytes int64) error {
	s.emit(ctx, ta.State(), ta.QueueStateReason)

	delay := backoffFor(nbytes)
	if d, ok := ta.RetryAfter(); ok {
		delay = d
	}
	s.limiter.SetBackoff(delay)

	err := perr.RequestFailedf("sample queued: %s", ta.QueueState)
	err = perr.WithRetryHint(err, true)
	return perr.WithRetryAfter(err, delay)
}

func (s *Service) emit(ctx context.Context, state types.QueueState, reason string) {
	if s.observer != nil {
		s.observer.ObserveQueueState(types.QueueStateObservation{
			State:     state,
			Reason:    reason,
			SessionID: s.sessionID,
		})
	}
	if state != types.QueueStateActive {
		logger.C(ctx).Warn().
			Str("queue_state", string(state)).
			Str("queue_state_reason", reason).
			Msg("sampling throttled")
	}
}

func backoffFor(nbytes int64) time.Duration {
	if nbytes <= smallRequestBytes {
		return smallBackoff
	}
	return largeBackoff
}
