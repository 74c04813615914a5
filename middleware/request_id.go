package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/modelmux/modelmux/common/helper"
)

// RequestId assigns every request a unique id, honoring one supplied by the
// caller, and echoes it in the response header.
func RequestId() func(c *gin.Context) {
	return func(c *gin.Context) {
		id := c.GetHeader(helper.RequestIdKey)
		if id == "" {
			id = helper.GenRequestId()
		}
		c.Set(helper.RequestIdKey, id)
		ctx := context.WithValue(c.Request.Context(), helper.RequestIdKey, id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(helper.RequestIdKey, id)
		c.Next()
	}
}
