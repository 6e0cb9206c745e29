package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler 健康检查：数据库必检，Redis 仅在配置时检查
type HealthHandler struct {
	db      *gorm.DB
	redis   redis.UniversalClient
	version string
	logger  *logrus.Logger
}

// NewHealthHandler 创建健康检查处理器；rdb 可为 nil
func NewHealthHandler(db *gorm.DB, rdb redis.UniversalClient, version string, logger *logrus.Logger) *HealthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HealthHandler{db: db, redis: rdb, version: version, logger: logger}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点；数据库不可用时返回 503
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	dbHealthy := h.checkDatabase(ctx, &response)
	redisHealthy := true
	if h.redis != nil {
		redisHealthy = h.checkRedis(ctx, &response)
	}

	statusCode := http.StatusOK
	switch {
	case !dbHealthy:
		response.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case !redisHealthy:
		// 去重可降级为不去重，仍返回 200
		response.Status = "degraded"
	}
	c.JSON(statusCode, response)
}

// checkDatabase 执行 ping
func (h *HealthHandler) checkDatabase(ctx context.Context, response *HealthResponse) bool {
	start := time.Now()
	info := ServiceInfo{Details: map[string]interface{}{"driver": h.db.Dialector.Name()}}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	info.Latency = time.Since(start).String()
	if err != nil {
		h.logger.Warnf("health: database ping failed: %v", err)
		info.Status = "unhealthy"
		info.Error = err.Error()
		response.Services["database"] = info
		return false
	}
	info.Status = "healthy"
	response.Services["database"] = info
	return true
}

// checkRedis 执行 PING
func (h *HealthHandler) checkRedis(ctx context.Context, response *HealthResponse) bool {
	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	info := ServiceInfo{Latency: time.Since(start).String()}
	if err != nil {
		h.logger.Warnf("health: redis ping failed: %v", err)
		info.Status = "unhealthy"
		info.Error = err.Error()
		response.Services["redis"] = info
		return false
	}
	info.Status = "healthy"
	response.Services["redis"] = info
	return true
}
