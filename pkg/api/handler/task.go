package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/automation-engine/pkg/api/dto"
	"github.com/LENAX/automation-engine/pkg/core/engine"
	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/storage"
)

// TaskHandler 任务定义API处理器
type TaskHandler struct {
	engine *engine.Engine
}

// NewTaskHandler 创建TaskHandler
func NewTaskHandler(eng *engine.Engine) *TaskHandler {
	return &TaskHandler{engine: eng}
}

// List 列出所有任务定义
// GET /api/v1/tasks
func (h *TaskHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	defs, err := h.engine.ListTaskDefinitions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询任务失败: %v", err)))
		return
	}

	items := make([]dto.TaskSummary, 0, len(defs))
	for _, def := range defs {
		items = append(items, toTaskSummary(def))
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[dto.TaskSummary]{
		Total:   len(items),
		Items:   items,
		HasMore: false,
	}))
}

// Get 获取任务定义详情
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	def, err := h.engine.GetTaskDefinition(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "任务不存在"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询任务失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.TaskDetail{
		TaskSummary: toTaskSummary(def),
		Payload:     def.Payload,
	}))
}

// Create 创建任务定义
// POST /api/v1/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.SaveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	def := task.NewTaskDefinition(req.Name, req.Type, req.Payload)
	applySaveRequest(def, &req)

	if err := h.engine.SaveTaskDefinition(ctx, def); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("任务校验失败: %v", err)))
		return
	}

	c.JSON(http.StatusCreated, dto.NewSuccessResponse(toTaskSummary(def)))
}

// Update 更新任务定义
// PUT /api/v1/tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req dto.SaveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	def, err := h.engine.GetTaskDefinition(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "任务不存在"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("查询任务失败: %v", err)))
		return
	}

	def.Name = req.Name
	def.Type = req.Type
	applySaveRequest(def, &req)

	if err := h.engine.SaveTaskDefinition(ctx, def); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("任务校验失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(toTaskSummary(def)))
}

// Delete 删除任务定义
// DELETE /api/v1/tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.engine.DeleteTaskDefinition(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "任务不存在"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("删除任务失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]string{"id": id}))
}

// SetEnabled 启用/禁用任务
// POST /api/v1/tasks/:id/enabled
func (h *TaskHandler) SetEnabled(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req dto.SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	if err := h.engine.SetTaskEnabled(ctx, id, req.Enabled); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "任务不存在"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, fmt.Sprintf("更新任务失败: %v", err)))
		return
	}

	c.JSON(http.StatusOK, dto.NewSuccessResponse(map[string]interface{}{
		"id":      id,
		"enabled": req.Enabled,
	}))
}

func applySaveRequest(def *task.TaskDefinition, req *dto.SaveTaskRequest) {
	def.CronExpr = req.CronExpr
	def.Tags = req.Tags
	def.Payload = req.Payload
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}
}

func toTaskSummary(def *task.TaskDefinition) dto.TaskSummary {
	return dto.TaskSummary{
		ID:        def.ID,
		Name:      def.Name,
		Type:      def.Type,
		CronExpr:  def.CronExpr,
		Enabled:   def.Enabled,
		Tags:      def.Tags,
		CreatedAt: def.CreateTime,
		UpdatedAt: def.UpdateTime,
	}
}
