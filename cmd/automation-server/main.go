package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LENAX/automation-engine/internal/storage"
	"github.com/LENAX/automation-engine/pkg/api"
	"github.com/LENAX/automation-engine/pkg/config"
	"github.com/LENAX/automation-engine/pkg/core/engine"
	"github.com/LENAX/automation-engine/pkg/core/executor"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "./configs/engine.yaml", "引擎配置文件路径")
	host := flag.String("host", "", "监听地址（覆盖配置文件）")
	port := flag.Int("port", 0, "监听端口（覆盖配置文件）")
	flag.Parse()

	log.Printf("Automation Engine Server v%s", Version)
	log.Printf("配置文件: %s", *configPath)

	// 1. 加载配置
	cfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *host != "" {
		cfg.Automation.Server.Host = *host
	}
	if *port > 0 {
		cfg.Automation.Server.Port = *port
	}

	// 2. 打开存储
	db, err := storage.Open(cfg.GetDatabaseType(), cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("打开存储失败: %v", err)
	}
	defer db.Close()

	db.DB.SetMaxOpenConns(cfg.Automation.Storage.Database.MaxOpenConns)
	db.DB.SetMaxIdleConns(cfg.Automation.Storage.Database.MaxIdleConns)
	db.DB.SetConnMaxLifetime(cfg.Automation.Storage.Database.ConnMaxLifetime)
	db.DB.SetConnMaxIdleTime(cfg.Automation.Storage.Database.ConnMaxIdleTime)

	// 3. 构建Engine
	ctx := context.Background()
	engineOpts := engine.Options{
		Executor: executor.Options{
			MaxRetries:       int(cfg.Automation.Execution.Retry.MaxRetries),
			BaseRetryDelayMS: uint64(cfg.Automation.Execution.Retry.BaseDelay.Milliseconds()),
			StepTimeout:      cfg.Automation.Execution.StepTimeout,
		},
		StaleMarkerTimeout: cfg.Automation.Scheduler.StaleMarkerTimeout,
	}

	eng, err := engine.NewEngine(ctx, db.Repos, executor.NewShellStepExecutor(), nil, engineOpts)
	if err != nil {
		log.Fatalf("创建Engine失败: %v", err)
	}

	// 4. 启动对账：遗留的未完成运行标记为失败
	if err := eng.ReconcileOnStart(ctx); err != nil {
		log.Fatalf("启动对账失败: %v", err)
	}

	// 5. 启动调度循环
	scheduler := engine.NewScheduler(eng, cfg.Automation.Scheduler.TickInterval)
	scheduler.Start(ctx)

	// 6. 创建API服务器
	serverConfig := api.ServerConfig{
		Host:         cfg.Automation.Server.Host,
		Port:         cfg.Automation.Server.Port,
		ReadTimeout:  cfg.Automation.Server.ReadTimeout,
		WriteTimeout: cfg.Automation.Server.WriteTimeout,
	}

	apiServer := api.NewAPIServer(eng, serverConfig, Version)

	// 7. 在goroutine中启动API服务器
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("API服务器错误: %v", err)
		}
	}()

	log.Printf("✅ Automation Engine Server started on %s", apiServer.Addr())

	// 8. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 9. 优雅关闭：停止调度、关闭API、等待in-flight运行
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Automation.Server.WriteTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("关闭API服务器失败: %v", err)
	}

	eng.Stop(30 * time.Second)
	log.Println("✅ 服务已停止")
}
