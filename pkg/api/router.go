package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/LENAX/relay-agent/pkg/api/handler"
	"github.com/LENAX/relay-agent/pkg/api/middleware"
)

// RouterOptions 路由依赖
type RouterOptions struct {
	Version       string
	OriginAllowed middleware.OriginChecker
	AgentHandler  http.Handler // 标签页代理 websocket 接入点，为空则不挂载
	Logger        *zap.SugaredLogger
}

// SetupRouter 设置路由
func SetupRouter(backend handler.Backend, opts RouterOptions) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	allowed := opts.OriginAllowed
	if allowed == nil {
		allowed = func(string) bool { return false }
	}

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(allowed))

	// 创建handlers
	healthHandler := handler.NewHealthHandler(backend, opts.Version)
	operationHandler := handler.NewOperationHandler(backend, log)
	adminHandler := handler.NewAdminHandler(backend)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// 标签页代理接入，来源由 websocket 握手校验
	if opts.AgentHandler != nil {
		router.GET("/agent/ws", gin.WrapH(opts.AgentHandler))
	}

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		// 临时操作通道：先校验来源再做任何处理
		v1.POST("/operations", middleware.RequireOrigin(allowed), operationHandler.Operate)

		admin := v1.Group("", middleware.RejectForeignOrigin(allowed))
		{
			admin.GET("/status", adminHandler.Status)
			admin.GET("/executions", adminHandler.Executions)
			admin.POST("/scheduler/pause", adminHandler.Pause)
			admin.POST("/scheduler/resume", adminHandler.Resume)
			admin.POST("/targets/open", adminHandler.OpenTarget)
		}
	}

	return router
}
