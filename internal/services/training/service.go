// Package training coordinates the ordered operation stream of one training
// session: requests are sequence-numbered, large batches are split into
// bounded chunks, and chunk results are reassembled in submission order
package training

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tinker/internal/adapters/api"
	"tinker/internal/core/chunk"
	perr "tinker/internal/platform/errors"
	"tinker/internal/platform/logger"
	"tinker/internal/services/futures"
	"tinker/types"
)

// Op tags used for error annotation and retry logging
const (
	opForward         = "Forward"
	opForwardBackward = "ForwardBackward"
	opOptimStep       = "OptimStep"
	opSave            = "Save"
	opLoad            = "Load"
	opSaveWeights     = "SaveWeightsForSampler"
	opGetInfo         = "GetInfo"
	opUnloadModel     = "UnloadModel"
)

// Reporter receives one event per dispatched operation. Implementations must
// not block; may be nil
type Reporter interface {
	Report(kind, sessionID string, fields map[string]any)
}

// Service is the coordinator for one training session
type Service struct {
	client *api.Client
	poller *futures.Poller
	tel    Reporter
	log    logger.Logger

	sessionID string
	modelName string

	// next sequence number; every sequenced operation reserves a contiguous
	// block before anything is sent
	seq atomic.Int64
}

// NewService binds a training session starting at sequence zero
func NewService(client *api.Client, poller *futures.Poller, tel Reporter, sessionID, modelName string) *Service {
	return &Service{
		client:    client,
		poller:    poller,
		tel:       tel,
		log:       *logger.Named("training"),
		sessionID: sessionID,
		modelName: modelName,
	}
}

// report ships one per-operation event tagged with the session and model
func (s *Service) report(op string) {
	if s.tel == nil {
		return
	}
	s.tel.Report("training_op", s.sessionID, map[string]any{
		"op":    op,
		"model": s.modelName,
	})
}

// SessionID returns the bound session
func (s *Service) SessionID() string { return s.sessionID }

// NextSeq returns the next sequence number without consuming it
func (s *Service) NextSeq() int64 { return s.seq.Load() }

// reserve claims n consecutive sequence numbers and returns the first
func (s *Service) reserve(n int) int64 {
	return s.seq.Add(int64(n)) - int64(n)
}

type chunkRequest struct {
	SessionID string        `json:"session_id"`
	Model     string        `json:"model,omitempty"`
	SeqID     int64         `json:"seq_id"`
	Data      []types.Datum `json:"data"`
	LossFn    string        `json:"loss_fn,omitempty"`
}

type controlRequest struct {
	SessionID string `json:"session_id"`
	SeqID     int64  `json:"seq_id"`

	AdamParams *types.AdamParams `json:"adam_params,omitempty"`
	Name       string            `json:"name,omitempty"`
	Path       string            `json:"path,omitempty"`
}

// chunkOutput is the per-chunk slice of a batched result
type chunkOutput struct {
	PerDatum []types.DatumOutput `json:"per_datum"`
	Metrics  map[string]float64  `json:"metrics,omitempty"`
}

// Forward runs a forward pass over data and returns per-datum logprobs
func (s *Service) Forward(ctx context.Context, data []types.Datum) (*types.ForwardResult, error) {
	outs, err := s.runChunked(ctx, opForward, "/forward", data, "")
	if err != nil {
		return nil, err
	}
	per, metrics := mergeOutputs(outs)
	return &types.ForwardResult{PerDatum: per, Metrics: metrics}, nil
}

// ForwardBackward runs a forward pass and accumulates gradients under the
// named built-in loss function
func (s *Service) ForwardBackward(
	ctx context.Context, data []types.Datum, lossFn string,
) (*types.ForwardBackwardResult, error) {
	outs, err := s.runChunked(ctx, opForwardBackward, "/forward_backward", data, lossFn)
	if err != nil {
		return nil, err
	}
	per, metrics := mergeOutputs(outs)
	return &types.ForwardBackwardResult{PerDatum: per, Metrics: metrics}, nil
}

// OptimStep applies accumulated gradients with the given hyperparameters
func (s *Service) OptimStep(ctx context.Context, params types.AdamParams) (*types.OptimStepResult, error) {
	var out types.OptimStepResult
	body := controlRequest{SessionID: s.sessionID, SeqID: s.reserve(1), AdamParams: &params}
	if err := s.control(ctx, opOptimStep, "/optim_step", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveState checkpoints the full training state under name
func (s *Service) SaveState(ctx context.Context, name string) (*types.SaveStateResult, error) {
	var out types.SaveStateResult
	body := controlRequest{SessionID: s.sessionID, SeqID: s.reserve(1), Name: name}
	if err := s.control(ctx, opSave, "/save_weights", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LoadState restores a previously saved training state
func (s *Service) LoadState(ctx context.Context, path string) error {
	body := controlRequest{SessionID: s.sessionID, SeqID: s.reserve(1), Path: path}
	return s.control(ctx, opLoad, "/load_weights", body, nil)
}

// SaveWeightsForSampler exports current weights in sampler-loadable form
func (s *Service) SaveWeightsForSampler(ctx context.Context, name string) (*types.SaveWeightsForSamplerResult, error) {
	var out types.SaveWeightsForSamplerResult
	body := controlRequest{SessionID: s.sessionID, SeqID: s.reserve(1), Name: name}
	if err := s.control(ctx, opSaveWeights, "/save_weights_for_sampler", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetInfo describes the model behind the session. Not sequenced
func (s *Service) GetInfo(ctx context.Context) (*types.ModelInfo, error) {
	var out types.ModelInfo
	body := map[string]string{"session_id": s.sessionID}
	if err := s.control(ctx, opGetInfo, "/get_info", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnloadModel releases the server-side resources of the session
func (s *Service) UnloadModel(ctx context.Context) error {
	body := controlRequest{SessionID: s.sessionID, SeqID: s.reserve(1)}
	return s.control(ctx, opUnloadModel, "/unload_model", body, nil)
}

// control submits one sequenced envelope request and resolves it
func (s *Service) control(ctx context.Context, op, path string, body, out any) error {
	s.report(op)
	env, err := s.client.DoEnvelope(ctx, api.PoolTraining, path, body, op)
	if err != nil {
		return perr.WithOp(err, op)
	}
	return s.resolve(ctx, op, env, body, out)
}

// runChunked splits data, submits every chunk in sequence order, then awaits
// all results concurrently. The first failure fails the whole batch
func (s *Service) runChunked(
	ctx context.Context, op, path string, data []types.Datum, lossFn string,
) ([]chunkOutput, error) {
	if len(data) == 0 {
		return nil, perr.WithOp(perr.Validationf("empty data batch"), op)
	}
	s.report(op)
	chunks := chunk.Split(data)
	base := s.reserve(len(chunks))

	if len(chunks) > 1 {
		s.log.Debug().
			Str("op", op).
			Int("num_chunks", len(chunks)).
			Int64("first_seq", base).
			Msg("batch split into chunks")
	}

	// submission is strictly sequential so sequence numbers arrive in order
	envs := make([]*api.Envelope, len(chunks))
	bodies := make([]chunkRequest, len(chunks))
	for i, ch := range chunks {
		bodies[i] = chunkRequest{
			SessionID: s.sessionID,
			Model:     s.modelName,
			SeqID:     base + int64(i),
			Data:      ch,
			LossFn:    lossFn,
		}
		env, err := s.client.DoEnvelope(ctx, api.PoolTraining, path, bodies[i], op)
		if err != nil {
			return nil, perr.WithOp(err, op)
		}
		envs[i] = env
	}

	// awaiting can overlap; results land in their chunk slot
	outs := make([]chunkOutput, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i := range envs {
		g.Go(func() error {
			return s.resolve(gctx, op, envs[i], bodies[i], &outs[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outs, nil
}

// resolve turns an envelope into a decoded result, polling when pending
func (s *Service) resolve(ctx context.Context, op string, env *api.Envelope, req, out any) error {
	if env.Terminal() {
		if err := env.Decode(out); err != nil {
			return perr.WithOp(err, op)
		}
		return nil
	}
	h := futures.Handle{RequestID: env.RequestID, SessionID: s.sessionID, Request: req, Op: op}
	return s.poller.AwaitInto(ctx, h, out)
}

// mergeOutputs reassembles chunk outputs in submission order
func mergeOutputs(outs []chunkOutput) ([]types.DatumOutput, map[string]float64) {
	var per []types.DatumOutput
	var metrics map[string]float64
	for _, o := range outs {
		per = append(per, o.PerDatum...)
		if len(o.Metrics) == 0 {
			continue
		}
		if metrics == nil {
			metrics = map[string]float64{}
		}
		for k, v := range o.Metrics {
			metrics[k] += v
		}
	}
	return per, metrics
}
