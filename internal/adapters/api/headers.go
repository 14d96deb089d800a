package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tinker/internal/platform/logger"
)

const fallbackRetryAfter = 1000 * time.Millisecond

// parseRetryAfter reads the server-requested delay from response headers.
// retry-after-ms (integer milliseconds) is preferred over retry-after (integer
// seconds). An unparseable value falls back to 1s with a warning
func parseRetryAfter(h http.Header, log *logger.Logger) (time.Duration, bool) {
	if v := h.Get("retry-after-ms"); v != "" {
		ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || ms < 0 {
			log.Warn().Str("retry_after_ms", v).Msg("unparseable retry-after-ms header")
			return fallbackRetryAfter, true
		}
		return time.Duration(ms) * time.Millisecond, true
	}
	if v := h.Get("retry-after"); v != "" {
		sec, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || sec < 0 {
			log.Warn().Str("retry_after", v).Msg("unparseable retry-after header")
			return fallbackRetryAfter, true
		}
		return time.Duration(sec) * time.Second, true
	}
	return 0, false
}

// retryHint reads the x-should-retry override; nil means no override
func retryHint(h http.Header) *bool {
	switch strings.ToLower(strings.TrimSpace(h.Get("x-should-retry"))) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}
