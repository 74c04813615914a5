package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelmux/modelmux/relay/controller"
)

// Health handles GET /health. Degraded service answers 503 so load
// balancers rotate the instance out.
func Health(orch *controller.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := orch.HealthCheck(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

// Providers handles GET /v1/providers: the installed adapters with their
// capabilities and breaker state.
func Providers(orch *controller.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.ProviderInfo())
	}
}
