package tinker

import (
	"context"

	"tinker/internal/services/rest"
	"tinker/types"
)

// ParseHandle parses a strict tinker://<run>/<kind>/<name> artifact address
func ParseHandle(s string) (rest.Handle, error) { return rest.ParseHandle(s) }

// ListSessions returns one page of the caller's sessions, newest first
func (c *Client) ListSessions(ctx context.Context, offset int) (*types.Page[types.Session], error) {
	return c.rest.ListSessions(ctx, offset)
}

// GetSession fetches one session by ID
func (c *Client) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return c.rest.GetSession(ctx, id)
}

// ListTrainingRuns returns one page of the caller's training runs
func (c *Client) ListTrainingRuns(ctx context.Context, offset int) (*types.Page[types.TrainingRun], error) {
	return c.rest.ListTrainingRuns(ctx, offset)
}

// GetTrainingRun fetches one training run by ID
func (c *Client) GetTrainingRun(ctx context.Context, id string) (*types.TrainingRun, error) {
	return c.rest.GetTrainingRun(ctx, id)
}

// GetSampler fetches one sampling server by ID
func (c *Client) GetSampler(ctx context.Context, id string) (*types.Sampler, error) {
	return c.rest.GetSampler(ctx, id)
}

// ListCheckpoints returns every checkpoint of one training run
func (c *Client) ListCheckpoints(ctx context.Context, runID string) ([]types.Checkpoint, error) {
	return c.rest.ListCheckpoints(ctx, runID)
}

// ListUserCheckpoints returns one page of the caller's checkpoints across runs
func (c *Client) ListUserCheckpoints(ctx context.Context, offset int) (*types.Page[types.Checkpoint], error) {
	return c.rest.ListUserCheckpoints(ctx, offset)
}

// DeleteCheckpoint removes the artifact addressed by a tinker:// path
func (c *Client) DeleteCheckpoint(ctx context.Context, path string) error {
	return c.rest.DeleteCheckpoint(ctx, path)
}

// DeleteCheckpointAsync is the non-blocking twin of DeleteCheckpoint
func (c *Client) DeleteCheckpointAsync(ctx context.Context, path string) *Future[struct{}] {
	return goFuture(func() (struct{}, error) { return struct{}{}, c.rest.DeleteCheckpoint(ctx, path) })
}

// GetCheckpointArchiveURL returns a short-lived download URL for a checkpoint
func (c *Client) GetCheckpointArchiveURL(ctx context.Context, path string) (string, error) {
	return c.rest.GetArchiveURL(ctx, path)
}

// GetWeightsInfo describes the weights behind a tinker:// path
func (c *Client) GetWeightsInfo(ctx context.Context, path string) (*types.WeightsInfo, error) {
	return c.rest.GetWeightsInfo(ctx, path)
}

// PublishCheckpoint makes a checkpoint readable by other users
func (c *Client) PublishCheckpoint(ctx context.Context, path string) error {
	return c.rest.PublishCheckpoint(ctx, path)
}

// UnpublishCheckpoint reverts a checkpoint to private
func (c *Client) UnpublishCheckpoint(ctx context.Context, path string) error {
	return c.rest.UnpublishCheckpoint(ctx, path)
}
