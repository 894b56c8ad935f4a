package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/reckonhq/reckon/internal/types"
)

// RequestIDMiddleware assigns every request a stable id, honoring one
// supplied by the caller, and echoes it on the response.
func RequestIDMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}

	ctx = types.SetRequestID(ctx, requestID)
	c.Request = c.Request.WithContext(ctx)

	c.Header(types.HeaderRequestID, requestID)

	c.Next()
}

// ContextMiddleware copies caller identity headers into the request
// context so services downstream can resolve the acting workspace and
// user without touching gin.
func ContextMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	if workspaceID := c.GetHeader(types.HeaderWorkspaceID); workspaceID != "" {
		ctx = types.SetWorkspaceID(ctx, workspaceID)
	}

	userID := c.GetHeader(types.HeaderUserID)
	if userID == "" {
		userID = types.DefaultUserID
	}
	ctx = types.SetUserID(ctx, userID)

	c.Request = c.Request.WithContext(ctx)
	c.Next()
}
