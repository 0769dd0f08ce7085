package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/alias"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/resolver"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/stream"
)

func init() {
	router.NewGroupRouter("/api").
		AddRoute(
			router.NewRoute("/create", http.MethodPost).
				Handle(create),
		).
		AddRoute(
			router.NewRoute("/copy", http.MethodPost).
				Handle(copyModel),
		).
		AddRoute(
			router.NewRoute("/delete", http.MethodPost).
				Handle(deleteModel),
		).
		AddRoute(
			router.NewRoute("/delete", http.MethodDelete).
				Handle(deleteModel),
		).
		AddRoute(
			router.NewRoute("/push", http.MethodPost).
				Handle(push),
		)
}

// emitStages writes staged NDJSON progress lines the way Ollama's own create
// and push endpoints narrate their work.
func emitStages(w stream.Writer, stages []string, final map[string]any) {
	write := func(obj map[string]any) {
		line, err := json.Marshal(obj)
		if err != nil {
			return
		}
		w.Write(append(line, '\n'))
		w.Flush()
	}
	for _, stage := range stages {
		write(map[string]any{"status": stage})
	}
	write(final)
}

// create registers an alias for an existing LM Studio model. Building models
// from blobs or quantizing them needs weight-level access the upstream API
// does not offer.
func create(c *gin.Context) {
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
	if files, ok := body["files"].(map[string]any); ok && len(files) > 0 {
		resp.ErrMsg(c, http.StatusNotImplemented, "creating models from custom blobs is not supported via LM Studio proxy")
		return
	}
	if q := stringField(body, "quantize", "quantization"); q != "" {
		resp.ErrMsg(c, http.StatusNotImplemented, "quantization is not available via LM Studio proxy")
		return
	}

	from := stringField(body, "from")
	if from == "" {
		from = name
	}
	id, err := resolver.Resolve(ctx, from)
	if err != nil {
		resp.Err(c, err)
		return
	}

	entry, err := alias.Create(name, from, id, alias.BuildMetadata(body, nil))
	if err != nil {
		resp.Err(c, err)
		return
	}

	if !boolField(body, "stream", true) {
		resp.JSON(c, entry.ToResponse())
		return
	}
	resp.StartNDJSON(c)
	emitStages(c.Writer,
		[]string{"reading model metadata", "creating alias", "writing manifest"},
		map[string]any{"status": "success"},
	)
}

// copyModel clones an alias, or snapshots a catalog model into a new alias.
func copyModel(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := parseBody(c)
	if err != nil {
		resp.Err(c, err)
		return
	}

	source := stringField(body, "source")
	destination := stringField(body, "destination")
	if source == "" || destination == "" {
		resp.ErrMsg(c, http.StatusBadRequest, "Missing 'source' or 'destination' field")
		return
	}

	var entry alias.Entry
	if existing, ok := alias.Get(source); ok {
		entry, err = alias.Create(destination, existing.SourceModel, existing.TargetModelID, existing.Metadata)
	} else {
		var id string
		id, err = resolver.Resolve(ctx, source)
		if err == nil {
			entry, err = alias.Create(destination, source, id, alias.Metadata{})
		}
	}
	if err != nil {
		resp.Err(c, err)
		return
	}
	resp.JSON(c, entry.ToResponse())
}

// deleteModel removes an alias. Real LM Studio models are never deleted
// through the proxy.
func deleteModel(c *gin.Context) {
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

	removed, err := alias.Delete(name)
	if err != nil {
		resp.Err(c, err)
		return
	}
	resp.JSON(c, gin.H{"status": "success", "model": removed.Name})
}

// push validates the model exists, then acknowledges without uploading.
// There is no registry behind LM Studio to push to.
func push(c *gin.Context) {
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
	if _, err := resolver.Resolve(ctx, name); err != nil {
		resp.Err(c, err)
		return
	}

	final := map[string]any{
		"status": "success",
		"model":  name,
		"detail": "push is a no-op when targeting LM Studio",
	}
	if !boolField(body, "stream", true) {
		resp.JSON(c, final)
		return
	}
	resp.StartNDJSON(c)
	emitStages(c.Writer,
		[]string{"retrieving manifest", "starting upload", "pushing manifest"},
		final,
	)
}
