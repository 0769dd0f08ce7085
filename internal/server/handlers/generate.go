package handlers

import (
	"context"
	"fmt"
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
			router.NewRoute("/generate", http.MethodPost).
				Handle(generate),
		)
}

func generate(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	body, err := parseBody(c)
	if err != nil {
		resp.Err(c, err)
		return
	}

	prompt, ok := body["prompt"].(string)
	if !ok {
		resp.ErrMsg(c, http.StatusBadRequest, "Missing 'prompt' field")
		return
	}

	target, err := resolveRequest(ctx, body)
	if err != nil {
		resp.Err(c, err)
		return
	}

	system := stringField(body, "system")
	if system == "" {
		system = target.SystemPrompt()
	}
	images, _ := body["images"].([]any)
	streaming := boolField(body, "stream", true)

	// A generate request with images has no completion-endpoint equivalent,
	// so it is routed through the chat endpoint as a single-turn conversation.
	var path string
	var upstream map[string]any
	if len(images) > 0 {
		messages := translate.VisionChatMessages(system, prompt, images)
		path = lmstudio.EndpointChat
		upstream = translate.BuildChatRequest(target.ID, messages, streaming, nil, target.Params)
	} else {
		if system != "" {
			prompt = fmt.Sprintf("%s\n\n%s", system, prompt)
		}
		path = lmstudio.EndpointCompletions
		upstream = translate.BuildCompletionRequest(target.ID, prompt, streaming, target.Params)
	}
	translate.ApplyKeepAliveTTL(upstream, target.KeepAliveSeconds, target.KeepAliveSet)

	if !streaming {
		lmResp, err := jit.WithLoadRetry(ctx, target.ID, loadTimeout(), func(ctx context.Context) (map[string]any, error) {
			return client.DoJSON(ctx, http.MethodPost, path, upstream)
		})
		if err != nil {
			resp.Err(c, err)
			return
		}
		resp.JSON(c, translate.GenerateResponse(lmResp, target.Name, prompt, start))
		return
	}

	upstreamResp, err := jit.WithLoadRetry(ctx, target.ID, loadTimeout(), func(ctx context.Context) (*http.Response, error) {
		return openStream(ctx, path, upstream)
	})
	if err != nil {
		resp.Err(c, err)
		return
	}

	resp.StartNDJSON(c)
	engine := &stream.Engine{
		Model:     target.Name,
		Chat:      false,
		MaxBuffer: conf.AppConfig.Stream.MaxBufferSize,
		Recovery:  conf.AppConfig.Stream.EnableChunkRecovery,
	}
	engine.Run(ctx, upstreamResp.Body, c.Writer)
}
