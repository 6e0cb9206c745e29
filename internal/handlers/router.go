package handlers

import (
	"complyhub/internal/config"
	"complyhub/internal/middleware"
	"complyhub/internal/observability"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RouterDeps 路由所需的处理器集合
type RouterDeps struct {
	Automation    *AutomationHandler
	Tasks         *TaskHandler
	Members       *MemberHandler
	Notifications *NotificationHandler
	Health        *HealthHandler
	Metrics       *MetricsHandler
}

// SetupRouter 组装 gin 路由
func SetupRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(observability.ServiceName(cfg)))
	}
	router.Use(middleware.CORSMiddleware(cfg))

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/health", deps.Health.Health)
	}
	if deps.Metrics != nil && cfg.Monitoring.Enabled {
		path := cfg.Monitoring.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, deps.Metrics.GetMetrics)
	}

	// API 路由组：认证之后按租户限流
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	api.Use(middleware.RateLimitMiddleware(cfg))

	automationAPI := api.Group("/")
	automationAPI.Use(middleware.RequireResourcePermission("automations"))
	RegisterAutomationRoutes(automationAPI, deps.Automation)

	tasksAPI := api.Group("/")
	tasksAPI.Use(middleware.RequireResourcePermission("tasks"))
	RegisterTaskRoutes(tasksAPI, deps.Tasks)

	certificatesAPI := api.Group("/")
	certificatesAPI.Use(middleware.RequireResourcePermission("certificates"))
	RegisterCertificateRoutes(certificatesAPI, deps.Tasks)

	membersAPI := api.Group("/")
	membersAPI.Use(middleware.RequireResourcePermission("members"))
	RegisterMemberRoutes(membersAPI, deps.Members)

	notificationsAPI := api.Group("/")
	notificationsAPI.Use(middleware.RequireResourcePermission("notifications"))
	RegisterNotificationRoutes(notificationsAPI, deps.Notifications)
	RegisterWebSocketRoutes(notificationsAPI.Group("/v1"), deps.Notifications)

	return router
}
