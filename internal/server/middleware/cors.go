package middleware

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Cors allows any origin. Ollama clients (IDE plugins, web UIs) connect from
// arbitrary origins and the proxy carries no credentials.
func Cors() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"}
	config.AllowHeaders = []string{"*"}
	return cors.New(config)
}
