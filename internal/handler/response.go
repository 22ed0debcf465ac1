// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"github.com/gin-gonic/gin"

	"medassist-go/internal/apperr"
	"medassist-go/pkg/log"
)

// writeError 把 apperr 映射为 HTTP 状态码与 {error, code} 响应体，extra 中的字段会一并写出。
func writeError(c *gin.Context, component string, err error, extra gin.H) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		log.Errorf("[%s] 请求失败, path: %s, error: %v", component, c.Request.URL.Path, err)
	} else {
		log.Warnf("[%s] 请求被拒绝, path: %s, error: %v", component, c.Request.URL.Path, err)
	}
	body := gin.H{"error": apperr.MessageOf(err), "code": string(apperr.CodeOf(err))}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

// bindError 是请求体无法解析时的统一响应。
func bindError(c *gin.Context, component string, err error) {
	writeError(c, component, apperr.Validation("invalid request body: %v", err), nil)
}
