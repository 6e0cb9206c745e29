package handlers

import (
	"net/http"

	"complyhub/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// MemberHandler 组织成员
type MemberHandler struct {
	service *services.MemberService
	logger  *logrus.Logger
}

func NewMemberHandler(service *services.MemberService, logger *logrus.Logger) *MemberHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemberHandler{service: service, logger: logger}
}

// AddMember 添加成员，触发 member_added
func (h *MemberHandler) AddMember(c *gin.Context) {
	actor, ok := requireTenant(c)
	if !ok {
		return
	}
	var req services.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	member, err := h.service.AddMember(c.Request.Context(), actor, &req)
	if err != nil {
		respondError(c, h.logger, "Failed to add member", err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func RegisterMemberRoutes(r *gin.RouterGroup, handler *MemberHandler) {
	r.POST("/members", handler.AddMember)
}
