package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobdh/eventmq/internal/scheduler"
	"github.com/jacobdh/eventmq/pkg/config"
	"github.com/jacobdh/eventmq/pkg/infra/redis"
	"github.com/jacobdh/eventmq/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/scheduler.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	// 1. 初始化日志
	log.Println("========================================")
	log.Println("  EventMQ Scheduler Starting...")
	log.Println("========================================")

	// 2. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.ValidateScheduler(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	// 3. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 4. 调度持久化存储
	store, err := redis.NewScheduleStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to create schedule store: %v", err)
	}
	defer store.Close()

	// 5. 创建并启动调度器（加载持久化的调度）
	sched, err := scheduler.NewScheduler(cfg, store, zapLogger)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	go func() {
		if err := sched.Start(); err != nil {
			log.Fatalf("Scheduler start failed: %v", err)
		}
	}()

	log.Println("Scheduler started. Press Ctrl+C to shutdown.")

	// 6. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down Scheduler...")
	log.Println("========================================")

	// 7. 优雅关闭
	sched.Shutdown()

	fmt.Println("========================================")
	fmt.Println("  Scheduler exited gracefully")
	fmt.Println("========================================")
}
