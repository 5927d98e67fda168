package middleware

import (
	"net/http"

	"scentcart/internal/auth"
	"scentcart/internal/logger"
	"scentcart/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireAuth rejects requests without a valid access token and puts the
// token subject into the request context.
func RequireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromCtx(c.Request.Context()).With(
			zap.String("layer", "middleware"),
			zap.String("method", "RequireAuth"),
		)

		tokenStr := auth.ExtractAccessToken(c.Request)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing access token"})
			return
		}

		claims, err := auth.ParseJWT(secret, tokenStr)
		if err != nil {
			log.Warn("token rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid access token"})
			return
		}

		ctx := utils.SetUserContext(c.Request.Context(), claims.UserID())
		ctx = logger.WithFields(ctx, zap.String("user_id", claims.UserID()))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireOwner answers 403 when the path parameter names another user.
func RequireOwner(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := utils.GetUserIDFromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		if c.Param(param) != userID {
			logger.FromCtx(c.Request.Context()).Warn("cart owner mismatch",
				zap.String("user_id", userID),
				zap.String("path_user_id", c.Param(param)),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
