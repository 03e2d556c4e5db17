package api

import (
	"github.com/gin-gonic/gin"

	"github.com/LENAX/automation-engine/pkg/api/handler"
	"github.com/LENAX/automation-engine/pkg/api/middleware"
	"github.com/LENAX/automation-engine/pkg/core/engine"
)

// SetupRouter 设置路由
func SetupRouter(eng *engine.Engine, version string) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	// 创建handlers
	taskHandler := handler.NewTaskHandler(eng)
	runHandler := handler.NewRunHandler(eng)
	schedulerHandler := handler.NewSchedulerHandler(eng)
	eventsHandler := handler.NewEventsHandler(eng)
	healthHandler := handler.NewHealthHandler(version)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		// 任务定义路由
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", taskHandler.List)
			tasks.POST("", taskHandler.Create)
			tasks.GET("/:id", taskHandler.Get)
			tasks.PUT("/:id", taskHandler.Update)
			tasks.DELETE("/:id", taskHandler.Delete)
			tasks.POST("/:id/enabled", taskHandler.SetEnabled)
			tasks.POST("/:id/runs", runHandler.Submit)
			tasks.GET("/:id/runs", runHandler.History)
		}

		// 运行路由
		runs := v1.Group("/runs")
		{
			runs.GET("/:id", runHandler.Get)
			runs.POST("/:id/cancel", runHandler.Cancel)
			runs.GET("/:id/events", eventsHandler.Stream)
		}

		// 调度器控制路由
		scheduler := v1.Group("/scheduler")
		{
			scheduler.GET("", schedulerHandler.State)
			scheduler.POST("/pause", schedulerHandler.Pause)
			scheduler.POST("/resume", schedulerHandler.Resume)
		}
	}

	return router
}
