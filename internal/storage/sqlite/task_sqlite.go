package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/storage"
	"github.com/LENAX/automation-engine/pkg/storage/dao"
)

const taskDefinitionSchema = `
CREATE TABLE IF NOT EXISTS task_definition (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	cron_expr TEXT,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	tags TEXT,
	payload TEXT,
	create_time DATETIME NOT NULL,
	update_time DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_definition_enabled ON task_definition(enabled);
`

var taskDefinitionColumns = []string{
	"id", "name", "type", "cron_expr", "enabled", "tags", "payload", "create_time", "update_time",
}

// taskRepo 任务定义存储的sqlx实现（小写，不导出）
// SQL通过Dialect生成，同一实现服务于sqlite/mysql/postgres
type taskRepo struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

// NewTaskRepo 创建任务定义存储实例（对外导出）
func NewTaskRepo(db *sqlx.DB, dialect storage.Dialect) (storage.TaskRepository, error) {
	repo := &taskRepo{db: db, dialect: dialect}
	if _, err := db.Exec(dialect.CreateTableSQL(taskDefinitionSchema)); err != nil {
		return nil, fmt.Errorf("初始化task_definition表失败: %w", err)
	}
	return repo, nil
}

// Save 保存任务定义（存在则更新）
func (r *taskRepo) Save(ctx context.Context, def *task.TaskDefinition) error {
	record, err := toTaskDAO(def)
	if err != nil {
		return err
	}

	query := r.dialect.UpsertSQL("task_definition", taskDefinitionColumns, "id",
		[]string{"name", "type", "cron_expr", "enabled", "tags", "payload", "update_time"})
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("保存任务定义失败: %w", err)
	}
	return nil
}

// GetByID 根据ID查询任务定义
func (r *taskRepo) GetByID(ctx context.Context, id string) (*task.TaskDefinition, error) {
	var record dao.TaskDefinitionDAO
	query := r.db.Rebind(`SELECT ` + joinColumns(taskDefinitionColumns) + ` FROM task_definition WHERE id = ?`)
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("查询任务定义失败: %w", err)
	}
	return fromTaskDAO(&record)
}

// List 列出所有任务定义
func (r *taskRepo) List(ctx context.Context) ([]*task.TaskDefinition, error) {
	query := `SELECT ` + joinColumns(taskDefinitionColumns) + ` FROM task_definition ORDER BY create_time`
	return r.selectDefinitions(ctx, query)
}

// ListEnabledScheduled 列出启用且配置了cron表达式的任务定义
func (r *taskRepo) ListEnabledScheduled(ctx context.Context) ([]*task.TaskDefinition, error) {
	query := r.db.Rebind(`SELECT ` + joinColumns(taskDefinitionColumns) +
		` FROM task_definition WHERE enabled = ? AND cron_expr IS NOT NULL AND cron_expr != '' ORDER BY create_time`)
	return r.selectDefinitions(ctx, query, true)
}

func (r *taskRepo) selectDefinitions(ctx context.Context, query string, args ...interface{}) ([]*task.TaskDefinition, error) {
	var records []dao.TaskDefinitionDAO
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("查询任务定义列表失败: %w", err)
	}

	defs := make([]*task.TaskDefinition, 0, len(records))
	for i := range records {
		def, err := fromTaskDAO(&records[i])
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Delete 删除任务定义
func (r *taskRepo) Delete(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM task_definition WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("删除任务定义失败: %w", err)
	}
	return nil
}

// toTaskDAO 业务实体转DAO
func toTaskDAO(def *task.TaskDefinition) (*dao.TaskDefinitionDAO, error) {
	record := &dao.TaskDefinitionDAO{
		ID:         def.ID,
		Name:       def.Name,
		Type:       def.Type,
		Enabled:    def.Enabled,
		CreateTime: def.CreateTime.UTC(),
		UpdateTime: def.UpdateTime.UTC(),
	}
	if def.CronExpr != "" {
		record.CronExpr = sql.NullString{String: def.CronExpr, Valid: true}
	}
	if len(def.Tags) > 0 {
		tagsJSON, err := json.Marshal(def.Tags)
		if err != nil {
			return nil, fmt.Errorf("序列化标签失败: %w", err)
		}
		record.Tags = sql.NullString{String: string(tagsJSON), Valid: true}
	}
	if len(def.Payload) > 0 {
		record.Payload = sql.NullString{String: string(def.Payload), Valid: true}
	}
	return record, nil
}

// fromTaskDAO DAO转业务实体
func fromTaskDAO(record *dao.TaskDefinitionDAO) (*task.TaskDefinition, error) {
	def := &task.TaskDefinition{
		ID:         record.ID,
		Name:       record.Name,
		Type:       record.Type,
		Enabled:    record.Enabled,
		CreateTime: record.CreateTime,
		UpdateTime: record.UpdateTime,
	}
	if record.CronExpr.Valid {
		def.CronExpr = record.CronExpr.String
	}
	if record.Tags.Valid && record.Tags.String != "" {
		if err := json.Unmarshal([]byte(record.Tags.String), &def.Tags); err != nil {
			return nil, fmt.Errorf("反序列化标签失败: %w", err)
		}
	}
	if record.Payload.Valid {
		def.Payload = json.RawMessage(record.Payload.String)
	}
	return def, nil
}

func joinColumns(columns []string) string {
	return strings.Join(columns, ", ")
}
