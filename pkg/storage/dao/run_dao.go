package dao

import (
	"database/sql"
	"time"
)

// RunRecordDAO 运行记录表结构映射
type RunRecordDAO struct {
	ID           string         `db:"id"`
	TaskID       string         `db:"task_id"`
	Status       string         `db:"status"`
	CreateTime   time.Time      `db:"create_time"`
	StartTime    sql.NullTime   `db:"start_time"`
	EndTime      sql.NullTime   `db:"end_time"`
	StepOutputs  sql.NullString `db:"step_outputs"` // step_key -> JSON输出的JSON对象
	ErrorMessage sql.NullString `db:"error_msg"`
	Warnings     sql.NullString `db:"warnings"` // JSON数组
}
