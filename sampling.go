package tinker

import (
	"context"

	"tinker/internal/adapters/api"
	"tinker/internal/services/sampling"
	"tinker/types"
)

// SamplingClient samples from one model path. Dispatch shares the owning
// client's concurrency and byte budgets with every other sampling session
type SamplingClient struct {
	svc *sampling.Service
}

// SampleRequest is one generation request
type SampleRequest = sampling.Request

// SampleStream is a live chunk stream returned by SampleStreamed
type SampleStream = sampling.Stream

// CreateSamplingClient opens (or reuses) a sampling session for modelPath.
// Repeated calls with the same path share one session
func (c *Client) CreateSamplingClient(ctx context.Context, modelPath string) (*SamplingClient, error) {
	if v, ok := c.samplers.Load(modelPath); ok {
		return v.(*SamplingClient), nil
	}

	body := createSessionRequest{Kind: "sampling", ModelPath: modelPath}
	var resp createSessionResponse
	err := c.api.Do(ctx, api.PoolSession, "POST", "/create_sampling_session", nil, body, &resp, "CreateSamplingClient")
	if err != nil {
		return nil, err
	}

	sc := &SamplingClient{
		svc: sampling.NewService(c.api, c.poller, c.limiter, c.observer, c.telemetry, resp.SessionID, modelPath),
	}
	if prev, loaded := c.samplers.LoadOrStore(modelPath, sc); loaded {
		// lost the race; the extra session is abandoned to server-side expiry
		return prev.(*SamplingClient), nil
	}
	c.telemetry.Report("sampling_session_created", resp.SessionID, map[string]any{
		"model_path": modelPath,
	})
	return sc, nil
}

// SessionID returns the server-side session identifier
func (s *SamplingClient) SessionID() string { return s.svc.SessionID() }

// Sample generates continuations and blocks for the result
func (s *SamplingClient) Sample(ctx context.Context, req SampleRequest) (*types.SampleResult, error) {
	return s.svc.Sample(ctx, req)
}

// SampleAsync is the non-blocking twin of Sample
func (s *SamplingClient) SampleAsync(ctx context.Context, req SampleRequest) *Future[*types.SampleResult] {
	return goFuture(func() (*types.SampleResult, error) { return s.svc.Sample(ctx, req) })
}

// SampleStreamed generates continuations as a live chunk stream
func (s *SamplingClient) SampleStreamed(ctx context.Context, req SampleRequest) (*SampleStream, error) {
	return s.svc.SampleStream(ctx, req)
}

// ComputeLogprobs scores the prompt without generating
func (s *SamplingClient) ComputeLogprobs(ctx context.Context, prompt types.ModelInput) ([]float64, error) {
	return s.svc.ComputeLogprobs(ctx, prompt)
}
