package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/jit"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/resolver"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/stream"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

func init() {
	router.NewGroupRouter("/v1").
		AddRoute(
			router.NewRoute("/*path", http.MethodPost).
				Handle(passthrough),
		).
		AddRoute(
			router.NewRoute("/*path", http.MethodGet).
				Handle(passthrough),
		)
}

// Hop-by-hop and length headers are recomputed on each leg.
var skippedHeaders = map[string]bool{
	"host":              true,
	"content-length":    true,
	"transfer-encoding": true,
}

// passthrough forwards OpenAI-compatible requests to LM Studio nearly
// verbatim. The model field is rewritten through the resolver so Ollama-style
// names keep working on this surface too, and a not-loaded rejection still
// gets the one-shot load retry.
func passthrough(c *gin.Context) {
	ctx := c.Request.Context()

	path := "/v1" + c.Param("path")
	if q := c.Request.URL.RawQuery; q != "" {
		path += "?" + q
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		resp.Err(c, proxyerr.InvalidRequest("failed to read request body: %v", err))
		return
	}

	raw, resolvedID, wantStream, err := rewriteModelField(ctx, raw)
	if err != nil {
		resp.Err(c, err)
		return
	}

	sendOnce := func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, c.Request.Method, client.URL(path), bytes.NewReader(raw))
		if err != nil {
			return nil, proxyerr.Internal("build upstream request: %v", err)
		}
		for name, values := range c.Request.Header {
			if skippedHeaders[strings.ToLower(name)] {
				continue
			}
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
		return client.DoRaw(req)
	}

	upstreamResp, err := sendOnce(ctx)
	if err != nil {
		resp.Err(c, err)
		return
	}

	// Error statuses are forwarded verbatim, except a loading rejection for a
	// known model, which earns one load-and-retry round first.
	if upstreamResp.StatusCode >= http.StatusBadRequest && resolvedID != "" {
		errBody, _ := io.ReadAll(io.LimitReader(upstreamResp.Body, 1<<20))
		upstreamResp.Body.Close()

		if proxyerr.IsModelLoadingError(string(errBody)) {
			log.Infof("model %s not loaded, triggering load", resolvedID)
			if terr := jit.TriggerLoad(ctx, resolvedID); terr == nil {
				retry, rerr := sendOnce(ctx)
				if rerr != nil {
					resp.Err(c, rerr)
					return
				}
				relay(c, retry, wantStream)
				return
			}
		}
		relay(c, &http.Response{
			StatusCode: upstreamResp.StatusCode,
			Header:     upstreamResp.Header,
			Body:       io.NopCloser(bytes.NewReader(errBody)),
		}, false)
		return
	}

	relay(c, upstreamResp, wantStream)
}

// rewriteModelField substitutes a resolvable Ollama-style model name with the
// upstream identifier. Unresolvable names pass through untouched so LM Studio
// produces its own error.
func rewriteModelField(ctx context.Context, raw []byte) ([]byte, string, bool, error) {
	var parsed map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &parsed) != nil {
		return raw, "", false, nil
	}
	wantStream := parsed["stream"] == true

	name, _ := parsed["model"].(string)
	if name == "" {
		return raw, "", wantStream, nil
	}

	id, err := resolver.Resolve(ctx, name)
	if err != nil {
		var pe *proxyerr.Error
		if errors.As(err, &pe) && pe.Kind == proxyerr.KindModelNotFound {
			return raw, "", wantStream, nil
		}
		return nil, "", false, err
	}
	if id == name {
		return raw, id, wantStream, nil
	}

	parsed["model"] = id
	rewritten, merr := json.Marshal(parsed)
	if merr != nil {
		return nil, "", false, proxyerr.Internal("re-encode request body: %v", merr)
	}
	return rewritten, id, wantStream, nil
}

// relay copies an upstream response back to the client, flushing per chunk
// when the client asked for a stream.
func relay(c *gin.Context, upstreamResp *http.Response, wantStream bool) {
	defer upstreamResp.Body.Close()

	for name, values := range upstreamResp.Header {
		if skippedHeaders[strings.ToLower(name)] {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Status(upstreamResp.StatusCode)

	if wantStream {
		stream.Passthrough(c.Request.Context(), upstreamResp.Body, c.Writer)
		return
	}
	if _, err := io.Copy(c.Writer, upstreamResp.Body); err != nil {
		log.Debugf("passthrough copy ended early: %v", err)
	}
}
