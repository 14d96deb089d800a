// Package tinker is the client for a hosted fine-tuning and sampling service.
// A Client owns the transport, rate-limit state and telemetry; TrainingClient
// and SamplingClient bind sessions on top of it
package tinker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tinker/internal/adapters/api"
	"tinker/internal/platform/logger"
	"tinker/internal/services/futures"
	"tinker/internal/services/rest"
	"tinker/internal/services/sampling"
	"tinker/internal/services/telemetry"
	"tinker/types"
)

// Config is the public client configuration. Zero fields fall back to
// production defaults; BaseURL and APIKey are required
type Config struct {
	BaseURL string
	APIKey  string

	// Per-request receive timeout
	Timeout time.Duration

	// Retry policy. MaxRetries 0 means unbounded, cut off by ProgressTimeout
	MaxRetries      int
	ProgressTimeout time.Duration
	DisableRetries  bool

	// Observer receives queue-state transitions from polling and dispatch
	Observer types.Observer

	// Optional Zero-Trust client pair
	CFAccessClientID     string
	CFAccessClientSecret string

	// DumpHeaders logs request and response headers at debug level
	DumpHeaders bool

	// Transport overrides the pooled transports, mainly for tests
	Transport http.RoundTripper
}

func (c Config) apiConfig() api.Config {
	return api.Config{
		BaseURL:              c.BaseURL,
		APIKey:               c.APIKey,
		Timeout:              c.Timeout,
		MaxRetries:           c.MaxRetries,
		ProgressTimeout:      c.ProgressTimeout,
		RetryEnabled:         !c.DisableRetries,
		CFAccessClientID:     c.CFAccessClientID,
		CFAccessClientSecret: c.CFAccessClientSecret,
		DumpHeaders:          c.DumpHeaders,
		Transport:            c.Transport,
	}
}

// Client is the service entry point. Safe for concurrent use; training and
// sampling sessions created from one client share its rate-limit state
type Client struct {
	api       *api.Client
	poller    *futures.Poller
	limiter   *sampling.Limiter
	rest      *rest.Service
	telemetry *telemetry.Reporter
	observer  types.Observer
	log       logger.Logger

	// sampling sessions deduplicated by model path
	samplers sync.Map // string -> *SamplingClient
}

// NewClient builds a client from cfg
func NewClient(cfg Config) (*Client, error) {
	ac, err := api.New(cfg.apiConfig())
	if err != nil {
		return nil, err
	}
	return newClient(ac, cfg.Observer), nil
}

// NewClientFromEnv builds a client from the TINKER_ environment surface.
// Missing required variables panic at startup
func NewClientFromEnv() (*Client, error) {
	ac, err := api.New(api.FromEnv())
	if err != nil {
		return nil, err
	}
	return newClient(ac, nil), nil
}

func newClient(ac *api.Client, observer types.Observer) *Client {
	return &Client{
		api:       ac,
		poller:    futures.New(ac, observer),
		limiter:   sampling.NewLimiter(),
		rest:      rest.NewService(ac),
		telemetry: telemetry.NewReporter(ac),
		observer:  observer,
		log:       *logger.Named("tinker"),
	}
}

// Healthz checks connectivity and credentials
func (c *Client) Healthz(ctx context.Context) error {
	return c.api.Do(ctx, api.PoolSession, http.MethodGet, "/healthz", nil, nil, nil, "Healthz")
}

// GetServerCapabilities reports the models and features of the connected server
func (c *Client) GetServerCapabilities(ctx context.Context) (*types.ServerCapabilities, error) {
	var out types.ServerCapabilities
	err := c.api.Do(ctx, api.PoolSession, http.MethodGet, "/get_server_capabilities", nil, nil, &out,
		"GetServerCapabilities")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetServerCapabilitiesAsync is the non-blocking twin of GetServerCapabilities
func (c *Client) GetServerCapabilitiesAsync(ctx context.Context) *Future[*types.ServerCapabilities] {
	return goFuture(func() (*types.ServerCapabilities, error) { return c.GetServerCapabilities(ctx) })
}

// Close flushes background work. Sessions created from the client keep
// working; stop those individually
func (c *Client) Close() {
	c.telemetry.Flush()
}
