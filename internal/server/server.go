package server

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/conf"
	_ "github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/handlers"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/middleware"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/resp"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/server/router"
	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/utils/log"
)

var httpSrv http.Server

func Start() error {
	if conf.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Errorf("panic handling %s %s: %v", c.Request.Method, c.Request.URL.Path, recovered)
		resp.ErrMsg(c, http.StatusInternalServerError, "internal server error")
	}))
	r.Use(middleware.Logger())
	r.Use(middleware.Cors())

	if err := router.RegisterAll(r); err != nil {
		return err
	}

	httpSrv.Addr = conf.AppConfig.Server.Listen
	httpSrv.Handler = r

	// Bind synchronously so an unusable listen address fails Start instead of
	// dying inside the serve goroutine.
	ln, err := net.Listen("tcp", httpSrv.Addr)
	if err != nil {
		return err
	}

	log.Infof("listening on %s, forwarding to %s", httpSrv.Addr, conf.AppConfig.Upstream.URL)
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server serve error: %v", err)
		}
	}()
	return nil
}

func Close() error {
	return httpSrv.Close()
}
