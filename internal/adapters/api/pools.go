package api

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	perr "tinker/internal/platform/errors"
)

// PoolType selects a connection-reuse domain. A request is never sent through
// a pool of a different type
type PoolType string

const (
	// PoolDefault is for anything without a dedicated pool
	PoolDefault PoolType = "default"

	// PoolTraining carries the sequential training operations
	PoolTraining PoolType = "training"

	// PoolSampling carries high-concurrency sample traffic
	PoolSampling PoolType = "sampling"

	// PoolFutures carries the polling loops
	PoolFutures PoolType = "futures"

	// PoolSession carries session lifecycle and heartbeats
	PoolSession PoolType = "session"

	// PoolTelemetry is isolated so reporting can never starve critical paths
	PoolTelemetry PoolType = "telemetry"
)

// poolConns sizes each pool for its traffic shape: sampling fans out, training
// is near-sequential, futures polls many requests at once
func poolConns(p PoolType) int {
	switch p {
	case PoolSampling:
		return 100
	case PoolTraining:
		return 5
	case PoolFutures:
		return 50
	case PoolSession:
		return 5
	case PoolTelemetry:
		return 5
	default:
		return 20
	}
}

type poolKey struct {
	base string
	pool PoolType
}

// Process-wide pool registry: identical (base URL, pool type) keys share one
// connection pool no matter how many clients exist
var (
	poolsMu sync.Mutex
	pools   = map[poolKey]*http.Client{}
)

// normalizeBase canonicalizes a base URL so equivalent spellings key the same
// pool: lowercase scheme/host, no trailing slash
func normalizeBase(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", perr.Validationf("invalid base URL %q", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	u.RawQuery = ""
	return u.String(), nil
}

// poolClient returns the shared client for (base, pool), building it on first
// use. An injected transport bypasses the registry so tests stay isolated
func poolClient(base string, pool PoolType, transport http.RoundTripper) *http.Client {
	if transport != nil {
		return &http.Client{Transport: transport}
	}

	key := poolKey{base: base, pool: pool}
	poolsMu.Lock()
	defer poolsMu.Unlock()
	if c, ok := pools[key]; ok {
		return c
	}
	n := poolConns(pool)
	c := &http.Client{
		// timeouts ride the request context, not the client
		Transport: &http.Transport{
			MaxConnsPerHost:     n,
			MaxIdleConnsPerHost: n,
		},
	}
	pools[key] = c
	return c
}
