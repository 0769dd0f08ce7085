package translate

import (
	"strconv"
	"strings"
	"time"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
)

// ParseKeepAlive interprets the Ollama keep_alive field. It accepts a number
// of seconds or a duration string like "5m". Returns (seconds, set, error);
// absent, null, and empty-string values leave the upstream TTL untouched.
func ParseKeepAlive(raw any, present bool) (int64, bool, error) {
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return 0, false, proxyerr.InvalidRequest("keep_alive must be integral")
		}
		return int64(v), true, nil
	case int:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false, nil
		}
		if d, err := time.ParseDuration(trimmed); err == nil {
			return int64(d.Seconds()), true, nil
		}
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return n, true, nil
		}
		return 0, false, proxyerr.InvalidRequest("invalid keep_alive value. Use numeric seconds or durations like '5m'")
	default:
		return 0, false, proxyerr.InvalidRequest("invalid keep_alive value. Use numeric seconds or durations like '5m'")
	}
}

// ApplyKeepAliveTTL writes the upstream ttl field when keep_alive was set.
func ApplyKeepAliveTTL(body map[string]any, seconds int64, set bool) {
	if set {
		body["ttl"] = seconds
	}
}

// KeepAliveRequestsUnload reports whether keep_alive asked for an immediate
// unload.
func KeepAliveRequestsUnload(seconds int64, set bool) bool {
	return set && seconds == 0
}
