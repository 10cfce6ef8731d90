package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Romano-de-la-vega/app-whisper/pkg/app"
	"github.com/Romano-de-la-vega/app-whisper/pkg/config"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}

	// 2. 日志写入 stdout 和 app.log
	logFile, err := app.SetupLogging(cfg.Paths.LogFile())
	if err != nil {
		log.Fatalf("❌ 初始化日志失败: %v", err)
	}
	defer logFile.Close()
	log.Println("✓ 配置加载成功")

	// 3. 组装组件
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}

	// 4. 运行直到收到中断信号
	if err := application.Run(ctx); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}
