package config

import (
	"time"
)

// EngineConfig 编排引擎框架配置（对外导出）
type EngineConfig struct {
	Automation struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Storage struct {
			Database struct {
				Type            string        `yaml:"type"`
				DSN             string        `yaml:"dsn"`
				MaxOpenConns    int           `yaml:"max_open_conns"`
				MaxIdleConns    int           `yaml:"max_idle_conns"`
				ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
				ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
			} `yaml:"database"`
		} `yaml:"storage"`
		Scheduler struct {
			TickInterval       time.Duration `yaml:"tick_interval"`
			StaleMarkerTimeout time.Duration `yaml:"stale_marker_timeout"`
		} `yaml:"scheduler"`
		Execution struct {
			StepTimeout time.Duration `yaml:"step_timeout"`
			Retry       struct {
				MaxRetries uint64        `yaml:"max_retries"`
				BaseDelay  time.Duration `yaml:"base_delay"`
			} `yaml:"retry"`
		} `yaml:"execution"`
		Server struct {
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"server"`
	} `yaml:"automation"`
}

// GetDatabaseType 获取数据库类型
func (c *EngineConfig) GetDatabaseType() string {
	return c.Automation.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *EngineConfig) GetDatabaseDSN() string {
	return c.Automation.Storage.Database.DSN
}

// ApplyDefaults 应用默认值
func (c *EngineConfig) ApplyDefaults() {
	// General默认值
	if c.Automation.General.InstanceName == "" {
		c.Automation.General.InstanceName = "automation-engine"
	}
	if c.Automation.General.LogLevel == "" {
		c.Automation.General.LogLevel = "info"
	}
	if c.Automation.General.Env == "" {
		c.Automation.General.Env = "dev"
	}

	// Database默认值
	if c.Automation.Storage.Database.Type == "" {
		c.Automation.Storage.Database.Type = "sqlite"
	}
	if c.Automation.Storage.Database.DSN == "" {
		c.Automation.Storage.Database.DSN = "./automation.db"
	}
	if c.Automation.Storage.Database.MaxOpenConns <= 0 {
		c.Automation.Storage.Database.MaxOpenConns = 10
	}
	if c.Automation.Storage.Database.MaxIdleConns <= 0 {
		c.Automation.Storage.Database.MaxIdleConns = 5
	}
	if c.Automation.Storage.Database.ConnMaxLifetime <= 0 {
		c.Automation.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}
	if c.Automation.Storage.Database.ConnMaxIdleTime <= 0 {
		c.Automation.Storage.Database.ConnMaxIdleTime = 1 * time.Hour
	}

	// Scheduler默认值
	if c.Automation.Scheduler.TickInterval <= 0 {
		c.Automation.Scheduler.TickInterval = 15 * time.Second
	}
	if c.Automation.Scheduler.StaleMarkerTimeout <= 0 {
		c.Automation.Scheduler.StaleMarkerTimeout = 1 * time.Hour
	}

	// Execution默认值
	if c.Automation.Execution.StepTimeout <= 0 {
		c.Automation.Execution.StepTimeout = 30 * time.Second
	}
	if c.Automation.Execution.Retry.MaxRetries == 0 {
		c.Automation.Execution.Retry.MaxRetries = 3
	}
	if c.Automation.Execution.Retry.BaseDelay <= 0 {
		c.Automation.Execution.Retry.BaseDelay = 1 * time.Second
	}

	// Server默认值
	if c.Automation.Server.Host == "" {
		c.Automation.Server.Host = "0.0.0.0"
	}
	if c.Automation.Server.Port <= 0 {
		c.Automation.Server.Port = 8080
	}
	if c.Automation.Server.ReadTimeout <= 0 {
		c.Automation.Server.ReadTimeout = 15 * time.Second
	}
	if c.Automation.Server.WriteTimeout <= 0 {
		c.Automation.Server.WriteTimeout = 30 * time.Second
	}
}
