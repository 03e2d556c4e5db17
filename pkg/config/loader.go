package config

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadEngineConfig 从yaml文件加载引擎配置（对外导出）
// 文件不存在时使用全部默认值，不视为错误
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := &EngineConfig{}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("⚠️ [Config] 配置文件不存在，使用默认配置: %s", path)
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}
