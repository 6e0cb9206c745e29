package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"complyhub/internal/middleware"
	"complyhub/internal/models"
	"complyhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AutomationHandler 管理自动化规则、模板、审计与触发
type AutomationHandler struct {
	service  *services.AutomationService
	triggers services.TriggerQueue
	scanners map[string]*services.PeriodicScanner
	logger   *logrus.Logger
}

// NewAutomationHandler 创建自动化处理器
func NewAutomationHandler(service *services.AutomationService, triggers services.TriggerQueue, logger *logrus.Logger, scanners ...*services.PeriodicScanner) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	h := &AutomationHandler{
		service:  service,
		triggers: triggers,
		scanners: make(map[string]*services.PeriodicScanner),
		logger:   logger,
	}
	for _, s := range scanners {
		h.scanners[s.Kind()] = s
	}
	return h
}

// ListRules 获取当前租户的规则
// @Summary 规则列表
// @Tags automations
// @Produce json
// @Success 200 {array} models.AutomationRule
// @Router /api/automations/rules [get]
func (h *AutomationHandler) ListRules(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	rules, err := h.service.ListRules(c.Request.Context(), actor.TenantID)
	if err != nil {
		respondError(c, h.logger, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule 获取单条规则
func (h *AutomationHandler) GetRule(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	rule, err := h.service.GetRule(c.Request.Context(), actor.TenantID, c.Param("id"))
	if err != nil {
		respondError(c, h.logger, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule 创建规则
// @Summary 创建规则
// @Tags automations
// @Accept json
// @Produce json
// @Param rule body services.AutomationRuleRequest true "规则"
// @Success 201 {object} models.AutomationRule
// @Failure 400 {object} ErrorResponse
// @Router /api/automations/rules [post]
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), actor.TenantID, actor.UserID, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rule, err := h.service.UpdateRule(c.Request.Context(), actor.TenantID, actor.UserID, c.Param("id"), &req)
	if err != nil {
		respondError(c, h.logger, "Failed to update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// EnableRule / DisableRule 切换启用状态
func (h *AutomationHandler) EnableRule(c *gin.Context)  { h.setEnabled(c, true) }
func (h *AutomationHandler) DisableRule(c *gin.Context) { h.setEnabled(c, false) }

func (h *AutomationHandler) setEnabled(c *gin.Context, enabled bool) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	rule, err := h.service.SetEnabled(c.Request.Context(), actor.TenantID, actor.UserID, c.Param("id"), enabled)
	if err != nil {
		respondError(c, h.logger, "Failed to toggle rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	if err := h.service.DeleteRule(c.Request.Context(), actor.TenantID, actor.UserID, c.Param("id")); err != nil {
		respondError(c, h.logger, "Failed to delete rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// PreviewRules 返回某个触发器当前会评估的规则（仅启用的）
func (h *AutomationHandler) PreviewRules(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	trigger := models.TriggerKind(c.Query("trigger"))
	rules, err := h.service.PreviewRules(c.Request.Context(), actor.TenantID, trigger)
	if err != nil {
		respondError(c, h.logger, "Failed to preview rules", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger": trigger, "rules": rules})
}

// ListTemplates 模板目录
func (h *AutomationHandler) ListTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, services.ListTemplates())
}

// InstallTemplatesRequest 安装模板请求；keys 为空时安装全部
type InstallTemplatesRequest struct {
	Keys []string `json:"keys"`
}

// InstallTemplates 为当前租户安装模板
func (h *AutomationHandler) InstallTemplates(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	var req InstallTemplatesRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	rules, err := h.service.InstallTemplates(c.Request.Context(), actor.TenantID, actor.UserID, req.Keys...)
	if err != nil {
		respondError(c, h.logger, "Failed to install templates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"installed": rules, "count": len(rules)})
}

// ListAudit 审计日志
func (h *AutomationHandler) ListAudit(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.service.ListAuditLogs(c.Request.Context(), actor.TenantID, limit)
	if err != nil {
		respondError(c, h.logger, "Failed to list audit logs", err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

// TriggerRequest 外部触发请求
type TriggerRequest struct {
	Trigger  models.TriggerKind     `json:"trigger" binding:"required"`
	Resource map[string]interface{} `json:"resource"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Trigger 入队一个触发器，立即返回 202
// 租户只取自令牌；resource.tenant_id 与之不符时拒绝
func (h *AutomationHandler) Trigger(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !req.Trigger.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid trigger", Message: "unknown trigger " + string(req.Trigger)})
		return
	}
	if tid, ok := req.Resource["tenant_id"]; ok && tid != actor.TenantID {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Forbidden", Message: "resource belongs to another tenant"})
		return
	}
	actx := services.AutomationContext{
		TenantID:    actor.TenantID,
		ActorUserID: actor.UserID,
		ActorEmail:  actor.Email,
		Resource:    req.Resource,
		Metadata:    req.Metadata,
	}
	if err := h.triggers.Submit(c.Request.Context(), req.Trigger, actx); err != nil {
		respondError(c, h.logger, "Failed to enqueue trigger", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "trigger": req.Trigger})
}

var scanAliases = map[string]string{
	"certificates":                     services.ScanCertificateExpiration,
	services.ScanCertificateExpiration: services.ScanCertificateExpiration,
	"overdue":                          services.ScanOverdueTasks,
	services.ScanOverdueTasks:          services.ScanOverdueTasks,
}

// RunScan 对当前租户同步执行一次扫描
func (h *AutomationHandler) RunScan(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	scanner, found := h.scanners[scanAliases[c.Param("kind")]]
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown scanner", Message: c.Param("kind")})
		return
	}
	res, err := scanner.Scan(c.Request.Context(), actor.TenantID)
	if err != nil {
		respondError(c, h.logger, "Scan failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("/rules", handler.ListRules)
		auto.POST("/rules", handler.CreateRule)
		auto.GET("/rules/preview", handler.PreviewRules)
		auto.GET("/rules/:id", handler.GetRule)
		auto.PUT("/rules/:id", handler.UpdateRule)
		auto.DELETE("/rules/:id", handler.DeleteRule)
		auto.POST("/rules/:id/enable", handler.EnableRule)
		auto.POST("/rules/:id/disable", handler.DisableRule)

		auto.GET("/templates", handler.ListTemplates)
		auto.POST("/templates/install", handler.InstallTemplates)
		auto.GET("/audit", handler.ListAudit)

		auto.POST("/trigger", handler.Trigger)
		auto.POST("/scans/:kind", middleware.RequireRolesAny(models.RoleOwner, models.RoleAdmin), handler.RunScan)
	}
}
