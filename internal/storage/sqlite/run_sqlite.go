package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/automation-engine/pkg/core/task"
	"github.com/LENAX/automation-engine/pkg/storage"
	"github.com/LENAX/automation-engine/pkg/storage/dao"
)

const runRecordSchema = `
CREATE TABLE IF NOT EXISTS run_record (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	create_time DATETIME NOT NULL,
	start_time DATETIME,
	end_time DATETIME,
	step_outputs TEXT,
	error_msg TEXT,
	warnings TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_record_task_id ON run_record(task_id);
CREATE INDEX IF NOT EXISTS idx_run_record_status ON run_record(status);
`

var runRecordColumns = []string{
	"id", "task_id", "status", "create_time", "start_time", "end_time", "step_outputs", "error_msg", "warnings",
}

// runRepo 运行记录存储的sqlx实现（小写，不导出）
type runRepo struct {
	db      *sqlx.DB
	dialect storage.Dialect
}

// NewRunRepo 创建运行记录存储实例（对外导出）
func NewRunRepo(db *sqlx.DB, dialect storage.Dialect) (storage.RunRepository, error) {
	repo := &runRepo{db: db, dialect: dialect}
	if _, err := db.Exec(dialect.CreateTableSQL(runRecordSchema)); err != nil {
		return nil, fmt.Errorf("初始化run_record表失败: %w", err)
	}
	return repo, nil
}

// Create 创建运行记录
func (r *runRepo) Create(ctx context.Context, rec *task.RunRecord) error {
	return r.upsert(ctx, rec, "创建运行记录失败")
}

// Update 更新运行记录
func (r *runRepo) Update(ctx context.Context, rec *task.RunRecord) error {
	return r.upsert(ctx, rec, "更新运行记录失败")
}

func (r *runRepo) upsert(ctx context.Context, rec *task.RunRecord, failMsg string) error {
	record, err := toRunDAO(rec)
	if err != nil {
		return err
	}
	query := r.dialect.UpsertSQL("run_record", runRecordColumns, "id",
		[]string{"status", "start_time", "end_time", "step_outputs", "error_msg", "warnings"})
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("%s: %w", failMsg, err)
	}
	return nil
}

// GetByID 根据操作ID查询运行记录
func (r *runRepo) GetByID(ctx context.Context, id string) (*task.RunRecord, error) {
	var record dao.RunRecordDAO
	query := r.db.Rebind(`SELECT ` + joinColumns(runRecordColumns) + ` FROM run_record WHERE id = ?`)
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return fromRunDAO(&record)
}

// ListByTaskID 查询指定任务的运行历史（按创建时间倒序）
func (r *runRepo) ListByTaskID(ctx context.Context, taskID string, limit int) ([]*task.RunRecord, error) {
	query := `SELECT ` + joinColumns(runRecordColumns) + ` FROM run_record WHERE task_id = ? ORDER BY create_time DESC`
	args := []interface{}{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.selectRecords(ctx, r.db.Rebind(query), args...)
}

// ListUnfinished 列出所有未进入终态的运行记录
func (r *runRepo) ListUnfinished(ctx context.Context) ([]*task.RunRecord, error) {
	query := r.db.Rebind(`SELECT ` + joinColumns(runRecordColumns) +
		` FROM run_record WHERE status IN (?, ?) ORDER BY create_time`)
	return r.selectRecords(ctx, query, task.RunStatusPending, task.RunStatusRunning)
}

func (r *runRepo) selectRecords(ctx context.Context, query string, args ...interface{}) ([]*task.RunRecord, error) {
	var records []dao.RunRecordDAO
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("查询运行记录列表失败: %w", err)
	}

	recs := make([]*task.RunRecord, 0, len(records))
	for i := range records {
		rec, err := fromRunDAO(&records[i])
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// toRunDAO 业务实体转DAO
func toRunDAO(rec *task.RunRecord) (*dao.RunRecordDAO, error) {
	record := &dao.RunRecordDAO{
		ID:         rec.ID,
		TaskID:     rec.TaskID,
		Status:     rec.Status,
		CreateTime: rec.CreateTime.UTC(),
	}
	if rec.StartTime != nil {
		record.StartTime = sql.NullTime{Time: rec.StartTime.UTC(), Valid: true}
	}
	if rec.EndTime != nil {
		record.EndTime = sql.NullTime{Time: rec.EndTime.UTC(), Valid: true}
	}
	if len(rec.StepOutputs) > 0 {
		outputsJSON, err := json.Marshal(rec.StepOutputs)
		if err != nil {
			return nil, fmt.Errorf("序列化Step输出失败: %w", err)
		}
		record.StepOutputs = sql.NullString{String: string(outputsJSON), Valid: true}
	}
	if rec.ErrorMessage != "" {
		record.ErrorMessage = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}
	if len(rec.Warnings) > 0 {
		warningsJSON, err := json.Marshal(rec.Warnings)
		if err != nil {
			return nil, fmt.Errorf("序列化警告列表失败: %w", err)
		}
		record.Warnings = sql.NullString{String: string(warningsJSON), Valid: true}
	}
	return record, nil
}

// fromRunDAO DAO转业务实体
func fromRunDAO(record *dao.RunRecordDAO) (*task.RunRecord, error) {
	rec := &task.RunRecord{
		ID:          record.ID,
		TaskID:      record.TaskID,
		Status:      record.Status,
		CreateTime:  record.CreateTime,
		StepOutputs: make(map[string]json.RawMessage),
	}
	if record.StartTime.Valid {
		startTime := record.StartTime.Time
		rec.StartTime = &startTime
	}
	if record.EndTime.Valid {
		endTime := record.EndTime.Time
		rec.EndTime = &endTime
	}
	if record.StepOutputs.Valid && record.StepOutputs.String != "" {
		if err := json.Unmarshal([]byte(record.StepOutputs.String), &rec.StepOutputs); err != nil {
			return nil, fmt.Errorf("反序列化Step输出失败: %w", err)
		}
	}
	if record.ErrorMessage.Valid {
		rec.ErrorMessage = record.ErrorMessage.String
	}
	if record.Warnings.Valid && record.Warnings.String != "" {
		if err := json.Unmarshal([]byte(record.Warnings.String), &rec.Warnings); err != nil {
			return nil, fmt.Errorf("反序列化警告列表失败: %w", err)
		}
	}
	return rec, nil
}
