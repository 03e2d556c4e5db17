package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/automation-engine/pkg/storage"
)

const schedulerStateSchema = `
CREATE TABLE IF NOT EXISTS scheduler_state (
	id INTEGER PRIMARY KEY,
	state TEXT NOT NULL
);
`

// stateRepo 调度器状态存储的sqlx实现（单行表，小写，不导出）
type stateRepo struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

// NewSchedulerStateRepo 创建调度器状态存储实例（对外导出）
func NewSchedulerStateRepo(db *sqlx.DB, dialect storage.Dialect) (storage.SchedulerStateRepository, error) {
	repo := &stateRepo{db: db, dialect: dialect}
	if _, err := db.Exec(dialect.CreateTableSQL(schedulerStateSchema)); err != nil {
		return nil, fmt.Errorf("初始化scheduler_state表失败: %w", err)
	}
	return repo, nil
}

// Load 读取持久化的调度器状态，未初始化时返回空字符串
func (r *stateRepo) Load(ctx context.Context) (string, error) {
	var state string
	query := r.db.Rebind(`SELECT state FROM scheduler_state WHERE id = ?`)
	if err := r.db.GetContext(ctx, &state, query, 1); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("读取调度器状态失败: %w", err)
	}
	return state, nil
}

// Save 保存调度器状态
func (r *stateRepo) Save(ctx context.Context, state string) error {
	query := r.dialect.UpsertSQL("scheduler_state", []string{"id", "state"}, "id", []string{"state"})
	if _, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":    1,
		"state": state,
	}); err != nil {
		return fmt.Errorf("保存调度器状态失败: %w", err)
	}
	return nil
}
