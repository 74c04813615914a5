// Package router wires the HTTP routes.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelmux/modelmux/common/config"
	"github.com/modelmux/modelmux/controller"
	"github.com/modelmux/modelmux/middleware"
	relaycontroller "github.com/modelmux/modelmux/relay/controller"
)

// SetRouter registers all routes on the engine.
func SetRouter(engine *gin.Engine, orch *relaycontroller.Orchestrator) {
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestId())
	engine.Use(middleware.RequestLogger())

	engine.GET("/health", controller.Health(orch))
	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := engine.Group("/v1")
	{
		v1.POST("/completions", controller.Completion(orch))
		v1.GET("/providers", controller.Providers(orch))
		v1.GET("/logs", controller.RecentLogs())
	}
}
