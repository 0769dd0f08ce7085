package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/jit"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/stream"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/translate"
)

func init() {
	router.NewGroupRouter("/api").
		AddRoute(
			router.NewRoute("/chat", http.MethodPost).
				Handle(chat),
		)
}

func chat(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	body, err := parseBody(c)
	if err != nil {
		resp.Err(c, err)
		return
	}

	messages, ok := body["messages"].([]any)
	if !ok || len(messages) == 0 {
		resp.ErrMsg(c, http.StatusBadRequest, "Missing 'messages' field")
		return
	}

	target, err := resolveRequest(ctx, body)
	if err != nil {
		resp.Err(c, err)
		return
	}

	messages, images := translate.CollectImages(messages)
	messages = translate.NormalizeMessages(messages, target.SystemPrompt(), target.SeedMessages())
	messages = translate.InjectImages(messages, images)

	streaming := boolField(body, "stream", true)
	upstream := translate.BuildChatRequest(target.ID, messages, streaming, body["tools"], target.Params)
	translate.ApplyKeepAliveTTL(upstream, target.KeepAliveSeconds, target.KeepAliveSet)

	if !streaming {
		lmResp, err := jit.WithLoadRetry(ctx, target.ID, loadTimeout(), func(ctx context.Context) (map[string]any, error) {
			return client.DoJSON(ctx, http.MethodPost, lmstudio.EndpointChat, upstream)
		})
		if err != nil {
			resp.Err(c, err)
			return
		}
		resp.JSON(c, translate.ChatResponse(lmResp, target.Name, len(messages), start))
		return
	}

	upstreamResp, err := jit.WithLoadRetry(ctx, target.ID, loadTimeout(), func(ctx context.Context) (*http.Response, error) {
		return openStream(ctx, lmstudio.EndpointChat, upstream)
	})
	if err != nil {
		resp.Err(c, err)
		return
	}

	resp.StartNDJSON(c)
	engine := &stream.Engine{
		Model:     target.Name,
		Chat:      true,
		MaxBuffer: conf.AppConfig.Stream.MaxBufferSize,
		Recovery:  conf.AppConfig.Stream.EnableChunkRecovery,
	}
	engine.Run(ctx, upstreamResp.Body, c.Writer)
}

// openStream starts an upstream streaming request, converting an error status
// into a typed error so the JIT retry can classify it.
func openStream(ctx context.Context, path string, body map[string]any) (*http.Response, error) {
	r, err := client.Do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if err := client.CheckError(r); err != nil {
		return nil, err
	}
	return r, nil
}
