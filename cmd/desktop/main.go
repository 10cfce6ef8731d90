package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"github.com/Romano-de-la-vega/app-whisper/pkg/app"
	"github.com/Romano-de-la-vega/app-whisper/pkg/config"
)

const (
	healthAttempts = 60
	healthInterval = 500 * time.Millisecond
)

func main() {
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}

	logFile, err := app.SetupLogging(cfg.Paths.LogFile())
	if err != nil {
		log.Fatalf("❌ 初始化日志失败: %v", err)
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("❌ 初始化失败: %v", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- application.Run(ctx)
	}()

	base := &url.URL{Scheme: "http", Host: application.Addr()}
	if err := waitForServer(base.String() + "/health"); err != nil {
		log.Printf("⚠️  %v", err)
	}

	err = wails.Run(&options.App{
		Title:  "App Whisper",
		Width:  1100,
		Height: 740,
		AssetServer: &assetserver.Options{
			Handler: httputil.NewSingleHostReverseProxy(base),
		},
		OnShutdown: func(context.Context) {
			cancel()
		},
	})
	if err != nil {
		log.Printf("❌ 窗口启动失败: %v", err)
	}

	cancel()
	if err := <-serverDone; err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}

// waitForServer 轮询 /health，直到服务器就绪或超过次数
func waitForServer(healthURL string) error {
	client := &http.Client{Timeout: healthInterval}
	for i := 0; i < healthAttempts; i++ {
		resp, err := client.Get(healthURL)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(healthInterval)
	}
	return fmt.Errorf("服务器在 %s 内未就绪", time.Duration(healthAttempts)*healthInterval)
}
