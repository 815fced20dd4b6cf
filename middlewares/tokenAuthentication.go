package middlewares

import (
	"net/http"
	"strings"

	"battleserver/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// bearerToken は Authorization ヘッダーからトークンを取り出す
func bearerToken(c *gin.Context) string {
	tokenString := c.GetHeader("Authorization")
	if strings.HasPrefix(tokenString, "Bearer ") {
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	}
	return strings.TrimSpace(tokenString)
}

// TokenAuthentication requires a valid HS256 bearer token signed with secret.
// An empty secret disables the check.
func TokenAuthentication(secret []byte, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			logger.Warn("認証失敗: トークンがありません", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := auth.ParseToken(secret, tokenString)
		if err != nil {
			logger.Warn("認証失敗", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		c.Set("operator", claims.Operator)
		c.Next()
	}
}
