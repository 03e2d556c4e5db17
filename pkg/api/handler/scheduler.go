package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/automation-engine/pkg/api/dto"
	"github.com/LENAX/automation-engine/pkg/core/engine"
)

// SchedulerHandler 调度器控制API处理器
type SchedulerHandler struct {
	engine *engine.Engine
}

// NewSchedulerHandler 创建SchedulerHandler
func NewSchedulerHandler(eng *engine.Engine) *SchedulerHandler {
	return &SchedulerHandler{engine: eng}
}

// State 查询调度器状态
// GET /api/v1/scheduler
func (h *SchedulerHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SchedulerStateResponse{
		State: h.engine.SchedulerState().Current(),
	}))
}

// Pause 暂停调度器
// POST /api/v1/scheduler/pause
func (h *SchedulerHandler) Pause(c *gin.Context) {
	if err := h.engine.SchedulerState().Pause(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("暂停调度器失败: %v", err)))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SchedulerStateResponse{
		State: h.engine.SchedulerState().Current(),
	}))
}

// Resume 恢复调度器
// POST /api/v1/scheduler/resume
func (h *SchedulerHandler) Resume(c *gin.Context) {
	if err := h.engine.SchedulerState().Resume(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("恢复调度器失败: %v", err)))
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.SchedulerStateResponse{
		State: h.engine.SchedulerState().Current(),
	}))
}
