package storage

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（命名参数形式）
	// tableName: 表名
	// columns: 列名列表
	// conflictColumn: 冲突判断列（通常是主键）
	// updateColumns: 需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string

	// CreateTableSQL 将以SQLite语法书写的DDL转换为本方言兼容的DDL
	CreateTableSQL(schema string) string

	// ConfigureDB 返回连接建立后需要执行的SQL（如SQLite的PRAGMA）
	ConfigureDB() []string
}
