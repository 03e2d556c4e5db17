package engine

import (
	"context"
	"log"
	"time"

	"github.com/LENAX/automation-engine/pkg/core/cron"
)

// 同一分钟内的重复tick通过该格式的key去重
const minuteKeyLayout = "2006-01-02T15:04"

// DefaultTickInterval 调度循环默认tick间隔
const DefaultTickInterval = 15 * time.Second

// Scheduler 周期调度循环（对外导出）
// 每个tick检查所有启用且带cron表达式的任务，到期的派发一次运行。
// 同一任务在同一分钟内至多派发一次，已有运行在进行中的任务跳过
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	lastDispatch map[string]string // taskID -> 最近派发的分钟key
	stop         chan struct{}
	done         chan struct{}
}

// NewScheduler 创建调度循环（对外导出）
func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Scheduler{
		engine:       engine,
		interval:     interval,
		lastDispatch: make(map[string]string),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start 启动调度循环（对外导出）
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
	log.Printf("🚀 [调度器] 调度循环已启动: 间隔=%s", s.interval)
}

// Stop 停止调度循环并等待退出（对外导出）
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	log.Println("🛑 [调度器] 调度循环已停止")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick 执行一轮调度检查
// 存储层故障只跳过本轮，不影响已在运行的任务
func (s *Scheduler) tick(ctx context.Context) {
	s.engine.reclaimStaleMarkers()

	if !s.engine.state.IsRunning() {
		return
	}

	defs, err := s.engine.repos.Tasks.ListEnabledScheduled(ctx)
	if err != nil {
		log.Printf("⚠️ [调度器] 查询定时任务失败，跳过本轮: %v", err)
		return
	}

	now := s.engine.clock.Now()
	minuteKey := now.Format(minuteKeyLayout)

	for _, def := range defs {
		schedule, err := cron.ParseSchedule(def.CronExpr)
		if err != nil {
			// 非法表达式在保存时已拦截，此处仅防御性跳过
			log.Printf("⚠️ [调度器] 任务cron表达式非法，已跳过: TaskID=%s, Expr=%s", def.ID, def.CronExpr)
			continue
		}
		if !schedule.IsDue(now.Minute(), now.Hour()) {
			continue
		}
		if s.lastDispatch[def.ID] == minuteKey {
			continue
		}
		if s.engine.isInFlight(def.ID) {
			log.Printf("🔄 [调度器] 任务已有运行在进行中，本次跳过: TaskID=%s, Name=%s", def.ID, def.Name)
			continue
		}

		s.lastDispatch[def.ID] = minuteKey
		runID, err := s.engine.dispatch(ctx, def)
		if err != nil {
			log.Printf("❌ [调度器] 派发任务失败: TaskID=%s, Error=%v", def.ID, err)
			continue
		}
		log.Printf("🕐 [调度器] 定时任务已派发: TaskID=%s, Name=%s, RunID=%s", def.ID, def.Name, runID)
	}
}
