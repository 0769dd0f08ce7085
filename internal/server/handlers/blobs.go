package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/blob"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
)

func init() {
	router.NewGroupRouter("/api").
		AddRoute(
			router.NewRoute("/blobs/:digest", http.MethodHead).
				Handle(blobExists),
		).
		AddRoute(
			router.NewRoute("/blobs/:digest", http.MethodPost).
				Handle(blobUpload),
		)
}

func blobExists(c *gin.Context) {
	ok, err := blob.Exists(c.Param("digest"))
	if err != nil {
		// HEAD responses carry no body.
		c.Status(proxyerr.StatusOf(err))
		return
	}
	if ok {
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusNotFound)
}

// blobUpload streams the body straight to disk; model layers run to many
// gigabytes, so the JSON body cap does not apply here.
func blobUpload(c *gin.Context) {
	if err := blob.Put(c.Param("digest"), c.Request.Body); err != nil {
		resp.Err(c, err)
		return
	}
	c.Status(http.StatusCreated)
}
