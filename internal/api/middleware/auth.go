package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d60-Lab/namesync/pkg/logger"
	"github.com/d60-Lab/namesync/pkg/response"
)

// BearerAuth 校验 Authorization: Bearer <secret>；未配置 secret 时拒绝所有请求
func BearerAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Warn("unauthorized admin request", zap.String("path", c.FullPath()), zap.String("ip", c.ClientIP()))
			response.Unauthorized(c, "unauthorized")
			return
		}
		c.Next()
	}
}
