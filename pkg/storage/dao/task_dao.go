package dao

import (
	"database/sql"
	"time"
)

// TaskDefinitionDAO 任务定义表结构映射
type TaskDefinitionDAO struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	Type       string         `db:"type"`
	CronExpr   sql.NullString `db:"cron_expr"`
	Enabled    bool           `db:"enabled"`
	Tags       sql.NullString `db:"tags"`    // JSON数组
	Payload    sql.NullString `db:"payload"` // 类型相关的JSON
	CreateTime time.Time      `db:"create_time"`
	UpdateTime time.Time      `db:"update_time"`
}
