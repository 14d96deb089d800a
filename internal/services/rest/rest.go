// Package rest covers the management surface: listing sessions, runs and
// checkpoints, resolving tinker:// handles, and checkpoint lifecycle
package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tinker/internal/adapters/api"
	perr "tinker/internal/platform/errors"
	"tinker/types"
)

const (
	defaultPageLimit        = 20
	userCheckpointPageLimit = 100
)

// Handle is a parsed tinker:// artifact address
type Handle struct {
	RunID string
	Kind  string
	Name  string
}

// String renders the canonical tinker:// form
func (h Handle) String() string {
	return fmt.Sprintf("tinker://%s/%s/%s", h.RunID, h.Kind, h.Name)
}

// ParseHandle parses a strict tinker://<run>/<kind>/<name> address.
// Anything else, including extra segments, is a validation error
func ParseHandle(s string) (Handle, error) {
	rest, ok := strings.CutPrefix(s, "tinker://")
	if !ok {
		return Handle{}, perr.Validationf("handle %q must start with tinker://", s)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Handle{}, perr.Validationf("handle %q must be tinker://<run>/<kind>/<name>", s)
	}
	return Handle{RunID: parts[0], Kind: parts[1], Name: parts[2]}, nil
}

// Service issues management calls over the training pool; sampler lookups go
// over the sampling pool
type Service struct {
	client *api.Client
}

// NewService wraps client for the management endpoints
func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return q
}

// ListSessions returns one page of sessions, newest first
func (s *Service) ListSessions(ctx context.Context, offset int) (*types.Page[types.Session], error) {
	var out types.Page[types.Session]
	err := s.client.Do(ctx, api.PoolTraining, http.MethodGet, "/sessions",
		pageQuery(defaultPageLimit, offset), nil, &out, "ListSessions")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches one session by ID
func (s *Service) GetSession(ctx context.Context, id string) (*types.Session, error) {
	if id == "" {
		return nil, perr.Validationf("empty session id")
	}
	var out types.Session
	err := s.client.Do(ctx, api.PoolTraining, http.MethodGet, "/sessions/"+url.PathEscape(id),
		nil, nil, &out, "GetSession")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTrainingRuns returns one page of training runs, newest first
func (s *Service) ListTrainingRuns(ctx context.Context, offset int) (*types.Page[types.TrainingRun], error) {
	var out types.Page[types.TrainingRun]
	err := s.client.Do(ctx, api.PoolTraining, http.MethodGet, "/training_runs",
		pageQuery(defaultPageLimit, offset), nil, &out, "ListTrainingRuns")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrainingRun fetches one training run by ID
func (s *Service) GetTrainingRun(ctx context.Context, id string) (*types.TrainingRun, error) {
	if id == "" {
		return nil, perr.Validationf("empty training run id")
	}
	var out types.TrainingRun
	err := s.client.Do(ctx, api.PoolTraining, http.MethodGet, "/training_runs/"+url.PathEscape(id),
		nil, nil, &out, "GetTrainingRun")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSampler fetches one sampling server by ID
func (s *Service) GetSampler(ctx context.Context, id string) (*types.Sampler, error) {
	if id == "" {
		return nil, perr.Validationf("empty sampler id")
	}
	var out types.Sampler
	err := s.client.Do(ctx, api.PoolSampling, http.MethodGet, "/samplers/"+url.PathEscape(id),
		nil, nil, &out, "GetSampler")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCheckpoints returns every checkpoint of one training run
func (s *Service) ListCheckpoints(ctx context.Context, runID string) ([]types.Checkpoint, error) {
	if runID == "" {
		return nil, perr.Validationf("empty run id")
	}
	var out types.Page[types.Checkpoint]
	err := s.client.Do(ctx, api.PoolTraining, http.MethodGet,
		"/training_runs/"+url.PathEscape(runID)+"/checkpoints", nil, nil, &out, "ListCheckpoints")
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ListUserCheckpoints returns one page of the caller's checkpoints across runs
func (s *Service) ListUserCheckpoints(ctx context.Context, offset int) (*types.Page[types.Checkpoint], error) {
	var out types.Page[types.Checkpoint]
	err := s.client.Do(ctx, api.PoolTraining, http.MethodGet, "/checkpoints",
		pageQuery(userCheckpointPageLimit, offset), nil, &out, "ListUserCheckpoints")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCheckpoint removes the artifact addressed by a tinker:// path
func (s *Service) DeleteCheckpoint(ctx context.Context, path string) error {
	h, err := ParseHandle(path)
	if err != nil {
		return err
	}
	return s.client.Do(ctx, api.PoolTraining, http.MethodDelete,
		checkpointPath(h), nil, nil, nil, "DeleteCheckpoint")
}

// GetArchiveURL returns a short-lived download URL for a checkpoint
func (s *Service) GetArchiveURL(ctx context.Context, path string) (string, error) {
	h, err := ParseHandle(path)
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url"`
	}
	err = s.client.Do(ctx, api.PoolTraining, http.MethodGet,
		checkpointPath(h)+"/archive", nil, nil, &out, "GetArchiveURL")
	if err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetWeightsInfo describes the weights behind a tinker:// path
func (s *Service) GetWeightsInfo(ctx context.Context, path string) (*types.WeightsInfo, error) {
	if _, err := ParseHandle(path); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("path", path)
	var out types.WeightsInfo
	err := s.client.Do(ctx, api.PoolTraining, http.MethodGet, "/weights/info", q, nil, &out, "GetWeightsInfo")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishCheckpoint makes a checkpoint readable by other users
func (s *Service) PublishCheckpoint(ctx context.Context, path string) error {
	return s.setPublished(ctx, path, "PublishCheckpoint", "/publish")
}

// UnpublishCheckpoint reverts a checkpoint to private
func (s *Service) UnpublishCheckpoint(ctx context.Context, path string) error {
	return s.setPublished(ctx, path, "UnpublishCheckpoint", "/unpublish")
}

func (s *Service) setPublished(ctx context.Context, path, op, action string) error {
	h, err := ParseHandle(path)
	if err != nil {
		return err
	}
	return s.client.Do(ctx, api.PoolTraining, http.MethodPost,
		checkpointPath(h)+action, nil, nil, nil, op)
}

func checkpointPath(h Handle) string {
	return "/training_runs/" + url.PathEscape(h.RunID) +
		"/checkpoints/" + url.PathEscape(h.Kind) + "/" + url.PathEscape(h.Name)
}
