// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"medassist-go/internal/apperr"
	"medassist-go/pkg/log"
	"medassist-go/pkg/token"
)

// ServiceAuth 校验 agent 路由上的服务令牌。jwtManager 为 nil 时不做校验（本地开发）。
// 校验通过后 claims 存入上下文键 "serviceClaims"。
func ServiceAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jwtManager == nil {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed authorization header", "code": string(apperr.CodeValidation)})
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.Warnf("[ServiceAuth] 服务令牌校验失败, path: %s, error: %v", c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired service token", "code": string(apperr.CodeValidation)})
			return
		}

		c.Set("serviceClaims", claims)
		c.Next()
	}
}
