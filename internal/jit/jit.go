// Package jit nudges LM Studio into loading a model when a request fails
// because the target is not loaded, then retries the request once.
package jit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

const loadPollInterval = 500 * time.Millisecond

// WithLoadRetry runs op and, when it fails with a model-loading error,
// triggers a load of the resolved model, waits for it to appear in the loaded
// set up to timeout, and runs op once more.
func WithLoadRetry[T any](ctx context.Context, resolvedID string, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	result, err := op(ctx)
	if err == nil {
		return result, nil
	}
	if proxyerr.IsCancelled(err) || proxyerr.IsUnavailable(err) {
		return result, err
	}
	if !proxyerr.IsModelLoadingError(err.Error()) {
		return result, err
	}

	log.Infof("model %s not loaded, triggering load", resolvedID)
	if terr := TriggerLoad(ctx, resolvedID); terr != nil {
		var zero T
		return zero, terr
	}
	awaitLoaded(ctx, resolvedID, timeout)

	return op(ctx)
}

// TriggerLoad issues a one-token chat completion so LM Studio JIT-loads the
// model. A 4xx answer still means the server saw the model and began loading,
// so it counts as success.
func TriggerLoad(ctx context.Context, resolvedID string) error {
	body := map[string]any{
		"model":      resolvedID,
		"messages":   []any{map[string]any{"role": "user", "content": "ping"}},
		"max_tokens": 1,
		"stream":     false,
	}
	_, err := client.DoJSON(ctx, http.MethodPost, lmstudio.EndpointChat, body)
	if err == nil {
		return nil
	}
	var pe *proxyerr.Error
	if errors.As(err, &pe) && pe.Kind == proxyerr.KindUpstream && pe.Status < http.StatusInternalServerError {
		return nil
	}
	return err
}

// awaitLoaded polls the loaded set until the model shows up or the timeout
// passes. Best effort; the retry happens either way.
func awaitLoaded(ctx context.Context, resolvedID string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(loadPollInterval)
	defer ticker.Stop()

	for {
		loaded, err := lmstudio.ListLoaded(ctx)
		if err == nil && loaded[resolvedID] {
			return
		}
		if time.Now().After(deadline) {
			log.Warnf("model %s not loaded after %s, retrying anyway", resolvedID, timeout)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
