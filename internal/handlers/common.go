package handlers

import (
	"errors"
	"net/http"

	"complyhub/internal/middleware"
	"complyhub/internal/services"
	"complyhub/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// currentActor reads the identity AuthMiddleware put on the context.
func currentActor(c *gin.Context) services.Actor {
	return services.Actor{
		TenantID: c.GetString(middleware.ContextTenantID),
		UserID:   c.GetString(middleware.ContextUserID),
		Email:    c.GetString(middleware.ContextUserEmail),
	}
}

// requireTenant aborts with 401 when no tenant is bound to the request.
func requireTenant(c *gin.Context) (services.Actor, bool) {
	actor := currentActor(c)
	if actor.TenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "Unauthorized",
			Message: "no tenant bound to request",
		})
		return actor, false
	}
	return actor, true
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request body",
		Message: err.Error(),
	})
}

// respondError maps domain errors to HTTP status codes.
func respondError(c *gin.Context, logger *logrus.Logger, what string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, services.ErrUnknownScanner):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration), errors.Is(err, services.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrTenantScopeViolation), errors.Is(err, store.ErrTenantMismatch):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrMissingTenant):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrQueueFull), errors.Is(err, services.ErrQueueClosed),
		errors.Is(err, services.ErrDependencyUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s: %v", what, err)
	}
	c.JSON(status, ErrorResponse{Error: what, Message: err.Error()})
}
