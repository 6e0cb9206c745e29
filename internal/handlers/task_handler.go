package handlers

import (
	"net/http"

	"complyhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 任务与证书接口；写入成功后由服务层发出触发器
type TaskHandler struct {
	service *services.TaskService
	logger  *logrus.Logger
}

func NewTaskHandler(service *services.TaskService, logger *logrus.Logger) *TaskHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TaskHandler{service: service, logger: logger}
}

// CreateTask 创建任务
// @Summary 创建任务
// @Tags tasks
// @Accept json
// @Produce json
// @Param task body services.TaskCreateRequest true "任务"
// @Success 201 {object} models.Task
// @Router /api/tasks [post]
func (h *TaskHandler) CreateTask(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.TaskCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	task, err := h.service.CreateTask(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create task", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// CompleteTask 完成任务
func (h *TaskHandler) CompleteTask(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	task, err := h.service.CompleteTask(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to complete task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// CreateCertificate 登记证书
func (h *TaskHandler) CreateCertificate(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.CertificateCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cert, err := h.service.CreateCertificate(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create certificate", err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

func RegisterTaskRoutes(r *gin.RouterGroup, handler *TaskHandler) {
	tasks := r.Group("/tasks")
	{
		tasks.POST("", handler.CreateTask)
		tasks.POST("/:id/complete", handler.CompleteTask)
	}
}

func RegisterCertificateRoutes(r *gin.RouterGroup, handler *TaskHandler) {
	r.POST("/certificates", handler.CreateCertificate)
}
