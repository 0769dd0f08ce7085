// Package resp renders handler results in Ollama's wire shapes: plain JSON
// bodies on success and {"error": "..."} objects on failure.
package resp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

// JSON writes a 200 response with the given body.
func JSON(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

// Err maps an error onto its HTTP status and Ollama error body. A client
// cancellation gets a bare 499 with no body since nobody is reading it.
func Err(c *gin.Context, err error) {
	if proxyerr.IsCancelled(err) {
		c.Status(proxyerr.StatusCancelled)
		c.Abort()
		return
	}
	status := proxyerr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// ErrMsg writes an error body with an explicit status.
func ErrMsg(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// StartNDJSON sets the headers for a newline-delimited JSON stream.
func StartNDJSON(c *gin.Context) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
}
