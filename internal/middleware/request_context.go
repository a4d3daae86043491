package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelhq/chatgate/internal/constants"
)

// RequestContext stamps per-request identity into the request's context so
// the fluent logger can pick it up anywhere downstream. An incoming
// X-Request-ID is trusted and echoed back; otherwise one is minted.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(constants.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, constants.CtxKeyRequestID, requestID)
		ctx = context.WithValue(ctx, constants.CtxKeyClientIP, c.ClientIP())
		ctx = context.WithValue(ctx, constants.CtxKeyUserAgent, c.GetHeader(constants.HeaderUserAgent))
		ctx = context.WithValue(ctx, constants.CtxKeyStartTime, time.Now())
		c.Request = c.Request.WithContext(ctx)

		c.Header(constants.HeaderXRequestID, requestID)
		c.Next()
	}
}
