package mysql

import (
	"fmt"
	"strings"
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// UpsertSQL 返回MySQL的UPSERT语句（ON DUPLICATE KEY UPDATE）
func (d *MySQLDialect) UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	updateParts := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updateParts[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		strings.Join(updateParts, ", "),
	)
}

// CreateTableSQL 将SQLite基准DDL转换为MySQL兼容格式
func (d *MySQLDialect) CreateTableSQL(schema string) string {
	// MySQL的主键列不能是TEXT，换成定长VARCHAR（主键均为uuid）
	result := strings.ReplaceAll(schema, "TEXT PRIMARY KEY", "VARCHAR(64) PRIMARY KEY")
	// MySQL不支持CREATE INDEX IF NOT EXISTS
	result = strings.ReplaceAll(result, "CREATE INDEX IF NOT EXISTS", "CREATE INDEX")
	return result
}

// ConfigureDB MySQL无需额外配置
func (d *MySQLDialect) ConfigureDB() []string {
	return nil
}
