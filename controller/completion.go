// Package controller exposes the HTTP handlers of the service.
package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelmux/modelmux/common/helper"
	"github.com/modelmux/modelmux/common/network"
	"github.com/modelmux/modelmux/relay/controller"
	"github.com/modelmux/modelmux/relay/model"
)

// Completion handles POST /v1/completions: bind the uniform request, run
// the orchestrator, map the outcome to an HTTP status.
func Completion(orch *controller.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code": string(model.ErrInvalidRequest),
					"message": helper.MessageWithRequestId(
						"invalid request body: "+err.Error(),
						c.GetString(helper.RequestIdKey)),
				},
			})
			return
		}
		if req.Context.RequestId == "" {
			req.Context.RequestId = c.GetString(helper.RequestIdKey)
		}

		if len(req.ImageUrls) > 0 {
			if err := network.ValidateImageURLs(c.Request.Context(), req.ImageUrls); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": gin.H{
						"code": string(model.ErrInvalidRequest),
						"message": helper.MessageWithRequestId(
							err.Error(), req.Context.RequestId),
					},
				})
				return
			}
		}

		resp := orch.GetCompletion(c.Request.Context(), &req)
		c.JSON(statusFor(resp), resp)
	}
}

// statusFor maps the response outcome onto the API surface.
func statusFor(resp *model.Response) int {
	if resp.Succeeded() {
		return http.StatusOK
	}
	switch resp.ErrorCode {
	case model.ErrInvalidRequest:
		return http.StatusBadRequest
	case model.ErrQuotaExceeded, model.ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrTimeout:
		return http.StatusGatewayTimeout
	case model.ErrCircuitOpen:
		return http.StatusServiceUnavailable
	case model.ErrCancelled:
		// Client closed the connection; 499 in the nginx tradition.
		return 499
	}
	// Upstream HTTP failures and unknown errors surface as a bad gateway.
	return http.StatusBadGateway
}
