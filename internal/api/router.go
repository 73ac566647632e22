package api

import (
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/d60-Lab/namesync/docs"
	"github.com/d60-Lab/namesync/internal/api/handler"
	"github.com/d60-Lab/namesync/internal/api/middleware"
)

// RouterOptions 路由参数
type RouterOptions struct {
	AdminSecret string
	ServiceName string
}

// NewRouter 注册路由：/health、/swagger、/api/v1/hooks、/api/v1/admin
func NewRouter(h *handler.Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger())
	if sentry.CurrentHub().Client() != nil {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	if opts.ServiceName != "" {
		r.Use(otelgin.Middleware(opts.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", h.Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1", middleware.BearerAuth(opts.AdminSecret))
	{
		v1.POST("/hooks/users/:user_id", h.UserChanged)
		v1.POST("/admin/backfill", h.Backfill)
		v1.POST("/admin/stats", h.ReconcileStats)
	}
	return r
}
