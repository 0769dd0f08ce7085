package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/client"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/jit"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/lmstudio"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/resolver"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/translate"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

func init() {
	router.NewGroupRouter("/api").
		AddRoute(
			router.NewRoute("/tags", http.MethodGet).
				Handle(tags),
		).
		AddRoute(
			router.NewRoute("/ps", http.MethodGet).
				Handle(ps),
		).
		AddRoute(
			router.NewRoute("/show", http.MethodPost).
				Handle(show),
		).
		AddRoute(
			router.NewRoute("/version", http.MethodGet).
				Handle(version),
		)

	router.NewGroupRouter("").
		AddRoute(
			router.NewRoute("/", http.MethodGet).
				Handle(heartbeat),
		).
		AddRoute(
			router.NewRoute("/", http.MethodHead).
				Handle(heartbeat),
		).
		AddRoute(
			router.NewRoute("/health", http.MethodGet).
				Handle(health),
		)
}

func tags(c *gin.Context) {
	models, err := lmstudio.ListModels(c.Request.Context())
	if err != nil {
		resp.Err(c, err)
		return
	}

	aliases := alias.List()
	entries := translate.MergeWithAliases(models, aliases, translate.TagsEntry)

	// Aliases whose target vanished from the catalog still show up so the
	// client can delete them.
	for _, e := range aliases {
		if !lo.ContainsBy(models, func(m lmstudio.ModelInfo) bool { return m.ID == e.TargetModelID }) {
			entries = append(entries, translate.OrphanAliasEntry(e))
		}
	}

	resp.JSON(c, gin.H{"models": entries})
}

func ps(c *gin.Context) {
	models, err := lmstudio.ListModels(c.Request.Context())
	if err != nil {
		resp.Err(c, err)
		return
	}

	loaded := lo.Filter(models, func(m lmstudio.ModelInfo, _ int) bool { return m.Loaded })
	entries := translate.MergeWithAliases(loaded, alias.List(), translate.PSEntry)
	resp.JSON(c, gin.H{"models": entries})
}

func show(c *gin.Context) {
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

	rawKeepAlive, hasKeepAlive := body["keep_alive"]
	seconds, set, err := translate.ParseKeepAlive(rawKeepAlive, hasKeepAlive)
	if err != nil {
		resp.Err(c, err)
		return
	}

	id, entry, err := resolver.ResolveTarget(ctx, name)
	if err != nil {
		resp.Err(c, err)
		return
	}

	m, err := lmstudio.Find(ctx, id)
	if err != nil {
		resp.Err(c, err)
		return
	}

	// Clients call show right before chatting, so use it as a load hint
	// unless keep_alive: 0 asked for the opposite.
	if !m.Loaded && !translate.KeepAliveRequestsUnload(seconds, set) {
		go func() {
			hintCtx, cancel := context.WithTimeout(context.Background(), loadTimeout())
			defer cancel()
			if err := jit.TriggerLoad(hintCtx, id); err != nil {
				log.Debugf("load hint for %s failed: %v", id, err)
			}
		}()
	}

	info := *m
	if entry != nil {
		info = info.WithAlias(entry.Name)
	}
	resp.JSON(c, translate.ShowResponse(info, entry))
}

func version(c *gin.Context) {
	resp.JSON(c, gin.H{"version": conf.OllamaVersion})
}

func heartbeat(c *gin.Context) {
	c.String(http.StatusOK, "Ollama is running")
}

// health reports upstream reachability together with round-trip latency and
// the raw model count.
func health(c *gin.Context) {
	start := time.Now()
	now := time.Now().UTC().Format(time.RFC3339)

	raw, err := client.DoJSON(c.Request.Context(), http.MethodGet, lmstudio.EndpointModels, nil)
	if err != nil {
		resp.JSON(c, gin.H{
			"status":        "unreachable",
			"lmstudio_url":  conf.AppConfig.Upstream.URL,
			"error":         err.Error(),
			"timestamp":     now,
			"proxy_version": conf.Version,
		})
		return
	}

	models, _ := raw["models"].([]any)
	resp.JSON(c, gin.H{
		"status":                   "ok",
		"lmstudio_url":             conf.AppConfig.Upstream.URL,
		"http_status":              http.StatusOK,
		"models_known_to_lmstudio": len(models),
		"response_time_ms":         time.Since(start).Milliseconds(),
		"timestamp":                now,
		"proxy_version":            conf.Version,
	})
}
