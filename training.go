package tinker

import (
	"context"

	"tinker/internal/adapters/api"
	"tinker/internal/services/session"
	"tinker/internal/services/training"
	"tinker/types"
)

type createSessionRequest struct {
	Kind      string `json:"kind"`
	ModelName string `json:"model_name,omitempty"`
	LoraRank  int    `json:"lora_rank,omitempty"`
	ModelPath string `json:"model_path,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// TrainingClient drives one training session. Operations are sequenced in call
// order; the session is heartbeat-kept until Close
type TrainingClient struct {
	svc    *training.Service
	keeper *session.Keeper
	owner  *Client
}

// CreateLoraTrainingClient starts a LoRA training session on baseModel.
// rank 0 lets the server pick its default
func (c *Client) CreateLoraTrainingClient(ctx context.Context, baseModel string, rank int) (*TrainingClient, error) {
	body := createSessionRequest{Kind: "training", ModelName: baseModel, LoraRank: rank}
	var resp createSessionResponse
	err := c.api.Do(ctx, api.PoolSession, "POST", "/create_model", nil, body, &resp, "CreateLoraTrainingClient")
	if err != nil {
		return nil, err
	}

	tc := &TrainingClient{
		svc:   training.NewService(c.api, c.poller, c.telemetry, resp.SessionID, baseModel),
		owner: c,
	}
	tc.keeper = session.NewKeeper(c.api, resp.SessionID, func(err error) {
		c.log.Error().Str("session_id", resp.SessionID).Err(err).Msg("training session expired")
	})
	tc.keeper.Start(context.Background())

	c.telemetry.Report("training_session_created", resp.SessionID, map[string]any{
		"model":     baseModel,
		"lora_rank": rank,
	})
	return tc, nil
}

// SessionID returns the server-side session identifier
func (t *TrainingClient) SessionID() string { return t.svc.SessionID() }

// Forward runs a forward pass and returns per-datum logprobs
func (t *TrainingClient) Forward(ctx context.Context, data []types.Datum) (*types.ForwardResult, error) {
	return t.svc.Forward(ctx, data)
}

// ForwardAsync is the non-blocking twin of Forward
func (t *TrainingClient) ForwardAsync(ctx context.Context, data []types.Datum) *Future[*types.ForwardResult] {
	return goFuture(func() (*types.ForwardResult, error) { return t.svc.Forward(ctx, data) })
}

// ForwardBackward accumulates gradients under the named built-in loss
func (t *TrainingClient) ForwardBackward(
	ctx context.Context, data []types.Datum, lossFn string,
) (*types.ForwardBackwardResult, error) {
	return t.svc.ForwardBackward(ctx, data, lossFn)
}

// ForwardBackwardAsync is the non-blocking twin of ForwardBackward
func (t *TrainingClient) ForwardBackwardAsync(
	ctx context.Context, data []types.Datum, lossFn string,
) *Future[*types.ForwardBackwardResult] {
	return goFuture(func() (*types.ForwardBackwardResult, error) {
		return t.svc.ForwardBackward(ctx, data, lossFn)
	})
}

// ForwardBackwardCustom accumulates gradients under a user-defined loss
func (t *TrainingClient) ForwardBackwardCustom(
	ctx context.Context, data []types.Datum, lossFn training.LossFn,
) (*types.ForwardBackwardResult, error) {
	return t.svc.ForwardBackwardCustom(ctx, data, lossFn)
}

// OptimStep applies accumulated gradients
func (t *TrainingClient) OptimStep(ctx context.Context, params types.AdamParams) (*types.OptimStepResult, error) {
	return t.svc.OptimStep(ctx, params)
}

// OptimStepAsync is the non-blocking twin of OptimStep
func (t *TrainingClient) OptimStepAsync(ctx context.Context, params types.AdamParams) *Future[*types.OptimStepResult] {
	return goFuture(func() (*types.OptimStepResult, error) { return t.svc.OptimStep(ctx, params) })
}

// SaveState checkpoints the full training state
func (t *TrainingClient) SaveState(ctx context.Context, name string) (*types.SaveStateResult, error) {
	return t.svc.SaveState(ctx, name)
}

// LoadState restores a previously saved training state
func (t *TrainingClient) LoadState(ctx context.Context, path string) error {
	return t.svc.LoadState(ctx, path)
}

// SaveWeightsForSampler exports current weights for sampling
func (t *TrainingClient) SaveWeightsForSampler(ctx context.Context, name string) (*types.SaveWeightsForSamplerResult, error) {
	return t.svc.SaveWeightsForSampler(ctx, name)
}

// SaveWeightsAndGetSamplingClient exports current weights and opens a sampling
// session on them in one call
func (t *TrainingClient) SaveWeightsAndGetSamplingClient(ctx context.Context, name string) (*SamplingClient, error) {
	saved, err := t.svc.SaveWeightsForSampler(ctx, name)
	if err != nil {
		return nil, err
	}
	return t.owner.CreateSamplingClient(ctx, saved.Path)
}

// GetInfo describes the model behind the session
func (t *TrainingClient) GetInfo(ctx context.Context) (*types.ModelInfo, error) {
	return t.svc.GetInfo(ctx)
}

// Close unloads the model and stops the heartbeat. The client stays usable
func (t *TrainingClient) Close(ctx context.Context) error {
	t.keeper.Stop()
	return t.svc.UnloadModel(ctx)
}
