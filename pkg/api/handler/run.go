package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/automation-engine/pkg/api/dto"
	"github.com/LENAX/automation-engine/pkg/core/engine"
	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/storage"
)

// RunHandler 运行API处理器
type RunHandler struct {
	engine *engine.Engine
}

// NewRunHandler 创建RunHandler
func NewRunHandler(eng *engine.Engine) *RunHandler {
	return &RunHandler{engine: eng}
}

// Submit 手动触发任务运行
// POST /api/v1/tasks/:id/runs
func (h *RunHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()
	taskID := c.Param("id")

	runID, err := h.engine.SubmitManualRun(ctx, taskID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "任务不存在"))
		case errors.Is(err, engine.ErrTaskInFlight):
			c.JSON(http.StatusConflict, dto.NewErrorResponse(409, "任务已有运行在进行中"))
		default:
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("触发运行失败: %v", err)))
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(dto.SubmitRunResponse{
		RunID:   runID,
		Message: "运行已提交",
	}))
}

// Get 查询运行状态
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	rec, err := h.engine.GetRunStatus(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "运行不存在"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询运行失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.RunDetail{
		RunSummary:  toRunSummary(rec),
		StepOutputs: rec.StepOutputs,
		Warnings:    rec.Warnings,
	}))
}

// Cancel 请求取消运行
// POST /api/v1/runs/:id/cancel
func (h *RunHandler) Cancel(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.engine.CancelRun(ctx, id); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "运行不存在"))
		case errors.Is(err, engine.ErrRunFinished):
			c.JSON(http.StatusConflict, dto.NewErrorResponse(409, "运行已结束，无法取消"))
		default:
			c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("取消运行失败: %v", err)))
		}
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{
		"id":      id,
		"message": "取消请求已提交",
	}))
}

// History 查询任务的运行历史
// GET /api/v1/tasks/:id/runs
func (h *RunHandler) History(c *gin.Context) {
	ctx := c.Request.Context()
	taskID := c.Param("id")

	var req dto.HistoryQueryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	limit := req.GetDefaultLimit()
	recs, err := h.engine.ListRuns(ctx, taskID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询运行历史失败: %v", err)))
		return
	}

	items := make([]dto.RunSummary, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toRunSummary(rec))
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.RunSummary]{
		Total:   len(items),
		Items:   items,
		HasMore: len(items) == limit,
	}))
}

func toRunSummary(rec *task.RunRecord) dto.RunSummary {
	summary := dto.RunSummary{
		ID:           rec.ID,
		TaskID:       rec.TaskID,
		Status:       string(rec.Status),
		CreatedAt:    rec.CreateTime,
		StartedAt:    rec.StartTime,
		FinishedAt:   rec.EndTime,
		ErrorMessage: rec.ErrorMessage,
	}
	if rec.StartTime != nil && rec.EndTime != nil {
		summary.Duration = formatDuration(rec.EndTime.Sub(*rec.StartTime))
	}
	return summary
}

// formatDuration 格式化时长为人类可读形式
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
