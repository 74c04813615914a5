package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/modelmux/modelmux/model"
)

// RecentLogs handles GET /v1/logs: the newest audit entries, newest first.
// Answers 404 when audit persistence is not configured.
func RecentLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		if model.DB == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{"message": "audit logging is not enabled"},
			})
			return
		}

		limit := 100
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": gin.H{"message": "limit must be a positive integer"},
				})
				return
			}
			limit = min(n, 1000)
		}

		entries, err := model.RecentAuditLogs(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": gin.H{"message": "failed to query audit logs"},
			})
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}
