package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/jit"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/translate"
)

func init() {
	router.NewGroupRouter("/api").
		AddRoute(
			router.NewRoute("/embed", http.MethodPost).
				Handle(embed),
		).
		AddRoute(
			router.NewRoute("/embeddings", http.MethodPost).
				Handle(embeddings),
		)
}

// embed handles the current Ollama embedding API, accepting a single string
// or a batch. Each input becomes one upstream call so vector order always
// matches input order.
func embed(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	target, inputs, err := embeddingInputs(c, true)
	if err != nil {
		resp.Err(c, err)
		return
	}

	vectors, lmResp, err := fetchEmbeddings(ctx, target, inputs)
	if err != nil {
		resp.Err(c, err)
		return
	}

	resp.JSON(c, translate.EmbeddingsResponse(vectors, lmResp, target.Name, start))
}

// embeddings handles the legacy single-input API, which takes one prompt
// string and returns one flat "embedding" vector instead of a batch.
func embeddings(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	target, inputs, err := embeddingInputs(c, false)
	if err != nil {
		resp.Err(c, err)
		return
	}

	vectors, lmResp, err := fetchEmbeddings(ctx, target, inputs)
	if err != nil {
		resp.Err(c, err)
		return
	}

	out := translate.EmbeddingsResponse(vectors, lmResp, target.Name, start)
	delete(out, "embeddings")
	out["embedding"] = vectors[0]
	resp.JSON(c, out)
}

func embeddingInputs(c *gin.Context, allowBatch bool) (*requestTarget, []any, error) {
	body, err := parseBody(c)
	if err != nil {
		return nil, nil, err
	}

	raw, ok := body["input"]
	if !ok {
		raw, ok = body["prompt"]
	}
	if !ok || raw == nil {
		return nil, nil, proxyerr.InvalidRequest("Missing 'input' or 'prompt' field")
	}

	var inputs []any
	switch v := raw.(type) {
	case string:
		inputs = []any{v}
	case []any:
		if !allowBatch {
			return nil, nil, proxyerr.InvalidRequest("'prompt' must be a single string")
		}
		if len(v) == 0 {
			return nil, nil, proxyerr.InvalidRequest("Missing 'input' or 'prompt' field")
		}
		inputs = v
	default:
		return nil, nil, proxyerr.InvalidRequest("'input' must be a string or an array of strings")
	}

	target, err := resolveRequest(c.Request.Context(), body)
	if err != nil {
		return nil, nil, err
	}
	return target, inputs, nil
}

// fetchEmbeddings runs one upstream call per input and collects the vectors
// in input order. The last upstream response is returned for its usage block.
func fetchEmbeddings(ctx context.Context, target *requestTarget, inputs []any) ([]any, map[string]any, error) {
	vectors := make([]any, 0, len(inputs))
	var lmResp map[string]any

	for _, input := range inputs {
		upstream := translate.BuildEmbeddingRequest(target.ID, input, target.Params)
		r, err := jit.WithLoadRetry(ctx, target.ID, loadTimeout(), func(ctx context.Context) (map[string]any, error) {
			return client.DoJSON(ctx, http.MethodPost, lmstudio.EndpointEmbeddings, upstream)
		})
		if err != nil {
			return nil, nil, err
		}
		extracted := translate.Embeddings(r)
		if len(extracted) == 0 {
			return nil, nil, proxyerr.Protocol("LM Studio embedding response contained no vectors")
		}
		vectors = append(vectors, extracted...)
		lmResp = r
	}
	return vectors, lmResp, nil
}
