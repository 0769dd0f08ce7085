// Package router collects route groups declared by handler packages at init
// time and mounts them on the gin engine in one pass.
package router

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

// GroupRouter is a set of routes sharing a path prefix and middlewares.
type GroupRouter struct {
	Path        string
	Routes      []*Route
	Middlewares []gin.HandlerFunc
}

var registeredRouters []*GroupRouter

// NewGroupRouter creates a group under the given prefix and registers it.
func NewGroupRouter(path string) *GroupRouter {
	g := &GroupRouter{Path: path}
	registeredRouters = append(registeredRouters, g)
	return g
}

func (g *GroupRouter) Use(middlewares ...gin.HandlerFunc) *GroupRouter {
	g.Middlewares = append(g.Middlewares, middlewares...)
	return g
}

func (g *GroupRouter) AddRoute(route *Route) *GroupRouter {
	g.Routes = append(g.Routes, route)
	return g
}

// Route is a single endpoint.
type Route struct {
	Path     string
	Method   string
	Handlers []gin.HandlerFunc
}

func NewRoute(path string, method string) *Route {
	return &Route{Path: path, Method: method}
}

func (r *Route) Handle(handlers ...gin.HandlerFunc) *Route {
	r.Handlers = append(r.Handlers, handlers...)
	return r
}

// RegisterAll mounts every registered group on the engine. The registry is
// cleared afterwards so a restarted server does not double-register.
func RegisterAll(engine *gin.Engine) error {
	for _, g := range registeredRouters {
		group := engine.Group(g.Path, g.Middlewares...)
		for _, route := range g.Routes {
			if len(route.Handlers) == 0 {
				return fmt.Errorf("route %s %s%s has no handler", route.Method, g.Path, route.Path)
			}
			path := route.Path
			if path != "" && !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			group.Handle(route.Method, path, route.Handlers...)
		}
	}
	registeredRouters = nil
	return nil
}
