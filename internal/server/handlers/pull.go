package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/download"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/resolver"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
)

func init() {
	router.NewGroupRouter("/api").
		AddRoute(
			router.NewRoute("/pull", http.MethodPost).
				Handle(pull),
		)
}

// downloadIdentifier normalizes an Ollama pull name for the LM Studio
// catalog. An @ suffix selects a quantization; Ollama-style tags are stripped
// since the catalog has no notion of them.
func downloadIdentifier(name string) (string, string) {
	quantization := ""
	if at := strings.LastIndex(name, "@"); at > 0 {
		quantization = name[at+1:]
		name = name[:at]
	}
	return alias.CanonicalName(name), quantization
}

// downloadSource picks the identifier sent to the downloader. An explicit
// source field wins, then an alias-supplied download_source parameter, then
// remote identifiers (scheme prefixes and publisher/model paths) pass through
// untouched. Bare names are matched against the catalog so the publisher can
// be filled in.
func downloadSource(ctx context.Context, body map[string]any, name, cleaned string) string {
	if src := stringField(body, "source"); src != "" {
		return src
	}
	if entry, ok := alias.Get(name); ok {
		if params, ok := entry.Metadata.Parameters.(map[string]any); ok {
			if src, ok := params["download_source"].(string); ok && src != "" {
				return src
			}
		}
	}
	if strings.Contains(cleaned, "://") || strings.Contains(cleaned, "/") {
		return cleaned
	}
	if models, err := lmstudio.ListModels(ctx); err == nil {
		if id, ok := resolver.MatchCatalog(cleaned, models); ok {
			if strings.Contains(id, "/") {
				return id
			}
			for _, m := range models {
				if m.ID == id && m.Publisher != "" {
					return m.Publisher + "/" + id
				}
			}
			return id
		}
	}
	return cleaned
}

// pull forwards a model download to the LM Studio catalog and re-emits its
// job progress as Ollama pull output. The insecure flag has no meaning here
// and is ignored.
func pull(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := parseBody(c)
	if err != nil {
		resp.Err(c, err)
		return
	}

	name := stringField(body, "model", "name")
	if name == "" {
		resp.ErrMsg(c, http.StatusBadRequest, "Missing 'model' field")
		return
	}

	cleaned, quantization := downloadIdentifier(name)
	if q := stringField(body, "quantization"); q != "" {
		quantization = q
	}
	identifier := downloadSource(ctx, body, name, cleaned)

	status, err := download.Initiate(ctx, identifier, quantization)
	if err != nil {
		resp.Err(c, err)
		return
	}

	if !boolField(body, "stream", true) {
		final, err := download.Await(ctx, status)
		if err != nil {
			resp.Err(c, err)
			return
		}
		out, err := final.FinalResponse(name)
		if err != nil {
			resp.Err(c, err)
			return
		}
		resp.JSON(c, out)
		return
	}

	resp.StartNDJSON(c)
	download.StreamUpdates(ctx, c.Writer, name, status)
}
