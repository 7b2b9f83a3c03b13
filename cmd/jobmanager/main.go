package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobdh/eventmq/internal/jobmanager"
	"github.com/jacobdh/eventmq/pkg/config"
	"github.com/jacobdh/eventmq/pkg/infra/mysql"
	"github.com/jacobdh/eventmq/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/jobmanager.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	// 1. 初始化日志
	log.Println("========================================")
	log.Println("  EventMQ JobManager Starting...")
	log.Println("========================================")

	// 2. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.ValidateJobManager(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	// 3. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 4. 执行历史（DSN 为空则关闭）
	var dao *mysql.ExecutionDAO
	if cfg.MySQL.DSN != "" {
		dao, err = mysql.NewExecutionDAO(cfg.MySQL.DSN)
		if err != nil {
			log.Fatalf("Failed to create execution DAO: %v", err)
		}
		defer dao.Close()
	}

	// 5. 任务注册表
	reg := jobmanager.NewRegistry()
	reg.Register("eventmq.scheduler", "test_job", jobmanager.TestJob)

	// 6. 创建并启动服务
	svc, err := jobmanager.NewService(cfg, reg, dao, zapLogger)
	if err != nil {
		log.Fatalf("Failed to create jobmanager: %v", err)
	}

	go func() {
		if err := svc.Start(); err != nil {
			log.Fatalf("JobManager start failed: %v", err)
		}
	}()

	log.Println("JobManager started. Press Ctrl+C to shutdown.")

	// 7. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Println("========================================")
	log.Printf("  Received signal: %v\n", sig)
	log.Println("  Shutting down JobManager...")
	log.Println("========================================")

	// 8. 优雅关闭（向对端 KBYE 并排空任务）
	svc.Shutdown()

	fmt.Println("========================================")
	fmt.Println("  JobManager exited gracefully")
	fmt.Println("========================================")
}
