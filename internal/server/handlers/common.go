// Package handlers implements the Ollama-compatible HTTP surface. Each file
// registers its routes at init time; the server mounts them all at startup.
package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/resolver"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/translate"
)

// Request bodies larger than this are rejected outright.
const maxBodyBytes = 16 << 20

// parseBody decodes a JSON request body. An empty body yields an empty map so
// handlers can treat optional bodies uniformly.
func parseBody(c *gin.Context) (map[string]any, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, proxyerr.InvalidRequest("failed to read request body: %v", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, proxyerr.InvalidRequest("invalid JSON in request body: %v", err)
	}
	return body, nil
}

// stringField returns the first non-empty string among the named keys.
func stringField(body map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := body[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// boolField reads an optional boolean, falling back to def when absent or not
// a boolean.
func boolField(body map[string]any, key string, def bool) bool {
	if b, ok := body[key].(bool); ok {
		return b
	}
	return def
}

func loadTimeout() time.Duration {
	return time.Duration(conf.AppConfig.Load.TimeoutSeconds) * time.Second
}

// requestTarget is everything the inference handlers need after resolution:
// the upstream id, the alias metadata when the name is an alias, the merged
// upstream parameters, and the parsed keep_alive.
type requestTarget struct {
	Name   string
	ID     string
	Alias  *alias.Entry
	Params map[string]any

	// System prompt carried in options.system, if any.
	OptionsSystem string

	KeepAliveSeconds int64
	KeepAliveSet     bool
}

// SystemPrompt is the effective system prompt: the request's options.system
// wins over the alias-supplied one.
func (t *requestTarget) SystemPrompt() string {
	if t.OptionsSystem != "" {
		return t.OptionsSystem
	}
	if t.Alias != nil && t.Alias.Metadata.SystemPrompt != nil {
		return *t.Alias.Metadata.SystemPrompt
	}
	return ""
}

// SeedMessages is the alias-supplied conversation prefix, if any.
func (t *requestTarget) SeedMessages() []any {
	if t.Alias != nil {
		return t.Alias.Metadata.Messages
	}
	return nil
}

// RequestsUnload reports whether keep_alive asked for an immediate unload.
func (t *requestTarget) RequestsUnload() bool {
	return translate.KeepAliveRequestsUnload(t.KeepAliveSeconds, t.KeepAliveSet)
}

// resolveRequest resolves the model field and folds the alias parameters,
// request options, format, and keep_alive into a ready-to-send target.
// Alias parameters act as defaults; per-request options win.
func resolveRequest(ctx context.Context, body map[string]any) (*requestTarget, error) {
	name := stringField(body, "model")
	if name == "" {
		return nil, proxyerr.InvalidRequest("Missing 'model' field")
	}

	id, entry, err := resolver.ResolveTarget(ctx, name)
	if err != nil {
		return nil, err
	}

	rawKeepAlive, hasKeepAlive := body["keep_alive"]
	seconds, set, err := translate.ParseKeepAlive(rawKeepAlive, hasKeepAlive)
	if err != nil {
		return nil, err
	}

	options, _ := body["options"].(map[string]any)
	var aliasParams map[string]any
	if entry != nil {
		aliasParams, _ = entry.Metadata.Parameters.(map[string]any)
	}
	merged := translate.MergeOptionMaps(aliasParams, options)
	// system is a prompt, not a sampler knob; it feeds the message list
	// rather than the upstream parameter set.
	optionsSystem, _ := merged["system"].(string)
	params, err := translate.MapOptions(merged, body["format"])
	if err != nil {
		return nil, err
	}

	return &requestTarget{
		Name:             name,
		ID:               id,
		Alias:            entry,
		Params:           params,
		OptionsSystem:    optionsSystem,
		KeepAliveSeconds: seconds,
		KeepAliveSet:     set,
	}, nil
}
