// Package api provides the HTTP transport for the service: pooled clients per
// traffic class, request classification into the response envelope, and the
// retry executor every call site shares
package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"tinker/internal/platform/config"
	perr "tinker/internal/platform/errors"
)

const (
	defaultTimeout         = 60 * time.Second
	defaultRetryBase       = 500 * time.Millisecond
	defaultRetryMax        = 10 * time.Second
	defaultJitterPct       = 0.25
	defaultProgressTimeout = 120 * time.Minute
)

// Config is the immutable per-client snapshot referenced by every request
type Config struct {
	BaseURL string `validate:"required,url"`
	APIKey  string `validate:"required"`

	// Per-request receive timeout
	Timeout time.Duration

	// Retry policy. MaxRetries 0 means unbounded attempts, cut off only by
	// ProgressTimeout; a small finite default here would fail prematurely
	// during server restarts
	MaxRetries      int
	RetryBase       time.Duration
	RetryMax        time.Duration
	JitterPct       float64
	ProgressTimeout time.Duration
	RetryEnabled    bool

	DefaultQuery   url.Values
	DefaultHeaders http.Header

	// Optional Zero-Trust client pair
	CFAccessClientID     string
	CFAccessClientSecret string

	// DumpHeaders logs request/response headers at debug level
	DumpHeaders bool

	// Transport overrides the pooled transports, mainly for tests
	Transport http.RoundTripper
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FromEnv reads the TINKER_ env surface into a Config
func FromEnv() Config {
	c := config.New().Prefix("TINKER_")
	return Config{
		BaseURL:              c.MustString("BASE_URL"),
		APIKey:               c.MustString("API_KEY"),
		Timeout:              c.MayDuration("TIMEOUT", defaultTimeout),
		MaxRetries:           c.MayInt("MAX_RETRIES", 0),
		RetryBase:            c.MayDuration("RETRY_BASE", defaultRetryBase),
		RetryMax:             c.MayDuration("RETRY_MAX", defaultRetryMax),
		JitterPct:            c.MayFloat64("RETRY_JITTER_PCT", defaultJitterPct),
		ProgressTimeout:      c.MayDuration("PROGRESS_TIMEOUT", defaultProgressTimeout),
		RetryEnabled:         c.MayBool("RETRY_ENABLED", true),
		CFAccessClientID:     c.MayString("CF_ACCESS_CLIENT_ID", ""),
		CFAccessClientSecret: c.MayString("CF_ACCESS_CLIENT_SECRET", ""),
		DumpHeaders:          c.MayBool("DUMP_HEADERS", false),
	}
}

// withDefaults fills zero fields with production defaults
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	if c.JitterPct <= 0 {
		c.JitterPct = defaultJitterPct
	}
	if c.ProgressTimeout <= 0 {
		c.ProgressTimeout = defaultProgressTimeout
	}
	return c
}

// Validate checks the snapshot before the first request is built
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return perr.Wrapf(err, perr.KindValidation, "invalid client config")
	}
	return nil
}
