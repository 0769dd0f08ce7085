package lmstudio

import (
	"context"
	"io"
	"net/http"

	"github.com/dlclark/regexp2"
	json "github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

// ListModels fetches the native catalog and normalizes it. The optional
// upstream.model_filter regex hides non-matching models from every surface.
func ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := client.Do(ctx, http.MethodGet, EndpointModels, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := client.CheckError(resp); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, proxyerr.FromTransport(err)
	}
	var decoded ModelsResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, proxyerr.Protocol("invalid model list from LM Studio: %v", err)
	}

	models := lo.Map(decoded.Models, func(n NativeModel, _ int) ModelInfo {
		return FromNative(n)
	})
	return filterModels(models, conf.AppConfig.Upstream.ModelFilter), nil
}

// ListLoaded returns the ids of models with at least one loaded instance.
func ListLoaded(ctx context.Context) (map[string]bool, error) {
	models, err := ListModels(ctx)
	if err != nil {
		return nil, err
	}
	loaded := make(map[string]bool)
	for _, m := range models {
		if m.Loaded {
			loaded[m.ID] = true
		}
	}
	return loaded, nil
}

// Find returns the catalog entry with the given upstream id.
func Find(ctx context.Context, id string) (*ModelInfo, error) {
	models, err := ListModels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range models {
		if models[i].ID == id {
			return &models[i], nil
		}
	}
	return nil, proxyerr.NotFound("model '%s' not found", id)
}

func filterModels(models []ModelInfo, filter string) []ModelInfo {
	if filter == "" {
		return models
	}
	re, err := regexp2.Compile(filter, regexp2.ECMAScript)
	if err != nil {
		log.Warnf("invalid model_filter %q, ignoring: %v", filter, err)
		return models
	}
	return lo.Filter(models, func(m ModelInfo, _ int) bool {
		matched, merr := re.MatchString(m.ID)
		if merr != nil {
			return true
		}
		return matched
	})
}
