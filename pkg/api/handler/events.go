package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/automation-engine/pkg/api/dto"
	"github.com/LENAX/automation-engine/pkg/core/engine"
	"github.com/LENAX/automation-engine/pkg/core/executor"
	"github.com/LENAX/automation-engine/pkg/storage"
)

const eventWriteTimeout = 10 * time.Second

// EventsHandler 运行事件websocket处理器
type EventsHandler struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
}

// NewEventsHandler 创建EventsHandler
func NewEventsHandler(eng *engine.Engine) *EventsHandler {
	return &EventsHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream 推送指定运行的实时事件
// GET /api/v1/runs/:id/events (websocket)
// 运行已终止时立即关闭；运行进入终态后随run_finished事件关闭
func (h *EventsHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")

	rec, err := h.engine.GetRunStatus(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.NewErrorResponse(404, "运行不存在"))
			return
		}
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(500, "查询运行失败"))
		return
	}

	// 先订阅再检查终态，避免订阅前的事件间隙
	events, cancel := h.engine.Events().Subscribe(runID)
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ [API] websocket升级失败: RunID=%s, Error=%v", runID, err)
		return
	}
	defer conn.Close()

	if rec.IsTerminal() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
			time.Now().Add(eventWriteTimeout))
		return
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("⚠️ [API] websocket写入失败: RunID=%s, Error=%v", runID, err)
				return
			}
			if event.Type == executor.EventRunFinished {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(eventWriteTimeout))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
