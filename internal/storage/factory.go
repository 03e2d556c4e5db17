package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	// 数据库驱动按需注册
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/automation-engine/internal/storage/sqlite"
	"github.com/LENAX/automation-engine/pkg/storage"
	mysqldialect "github.com/LENAX/automation-engine/pkg/storage/mysql"
	pgdialect "github.com/LENAX/automation-engine/pkg/storage/postgres"
	sqlitedialect "github.com/LENAX/automation-engine/pkg/storage/sqlite"
)

// Database 已打开的数据库与其Repository集合（内部使用）
type Database struct {
	DB    *sqlx.DB
	Repos *storage.Repositories
}

// Open 打开数据库并初始化Repository集合（内部工厂方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
// dsn: 数据库连接字符串（sqlite为文件路径）
func Open(dbType, dsn string) (*Database, error) {
	driver, dialect, err := resolveDialect(dbType)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开%s数据库失败: %w", dbType, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接%s数据库失败: %w", dbType, err)
	}

	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置数据库连接失败（%s）: %w", stmt, err)
		}
	}

	tasks, err := sqlite.NewTaskRepo(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	runs, err := sqlite.NewRunRepo(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	state, err := sqlite.NewSchedulerStateRepo(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Database{
		DB: db,
		Repos: &storage.Repositories{
			Tasks:          tasks,
			Runs:           runs,
			SchedulerState: state,
		},
	}, nil
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	return d.DB.Close()
}

func resolveDialect(dbType string) (driver string, dialect storage.Dialect, err error) {
	switch dbType {
	case "sqlite", "":
		return "sqlite3", sqlitedialect.NewSQLiteDialect(), nil
	case "mysql":
		return "mysql", mysqldialect.NewMySQLDialect(), nil
	case "postgres", "postgresql":
		return "postgres", pgdialect.NewPostgresDialect(), nil
	default:
		return "", nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}
