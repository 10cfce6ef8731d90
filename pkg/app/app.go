package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Romano-de-la-vega/app-whisper/pkg/api"
	"github.com/Romano-de-la-vega/app-whisper/pkg/config"
	"github.com/Romano-de-la-vega/app-whisper/pkg/events"
	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/provision"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
	"github.com/Romano-de-la-vega/app-whisper/pkg/transcriber"
	"github.com/Romano-de-la-vega/app-whisper/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

// App 应用上下文：所有组件在这里组装，两个可执行文件共用
type App struct {
	config    *config.Config
	store     *storage.JobStore
	archive   storage.Archive
	publisher events.Publisher
	worker    *worker.Worker
	server    *http.Server
}

// New 根据配置初始化所有组件
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Paths.EnsureDirs(); err != nil {
		return nil, err
	}

	app := &App{
		config: cfg,
		store:  storage.NewJobStore(),
	}

	archive, err := newArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	app.archive = archive

	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		app.archive.Close()
		return nil, err
	}
	app.publisher = publisher

	media := transcriber.NewMediaTools(cfg.Engine.FFmpegBin, cfg.Engine.FFprobeBin)
	engine := transcriber.NewWhisperCPPEngine(cfg.Engine.WhisperBin, cfg.Engine.Threads, media)

	provOpts := []provision.Option{provision.WithFallback(engine)}
	if cfg.Models.HubURL != "" {
		provOpts = append(provOpts, provision.WithDownloader(provision.NewHTTPDownloader(nil)))
	}
	provisioner := provision.NewProvisioner(cfg.Models.Dir, cfg.Models.HubURL, provOpts...)

	outputRoot := cfg.Paths.TranscriptionsDir()
	local := transcriber.NewLocalBackend(engine, provisioner, outputRoot)

	// cloud 为 nil 时 Worker 把云端任务标记为失败
	var cloud transcriber.Backend
	if cfg.OpenAI.IsEnabled() {
		cloud = transcriber.NewCloudBackend(
			transcriber.OpenAIFactory(cfg.OpenAI.BaseURL, cfg.OpenAI.DocumentModel),
			func() string { return cfg.OpenAI.APIKey },
			outputRoot,
		)
		log.Println("✓ OpenAI 模式已启用")
	} else {
		log.Println("⚠️  OpenAI 模式已禁用")
	}

	app.worker = worker.NewWorker(app.store, local, cloud, app.archive, app.publisher)
	log.Println("✓ Worker 已就绪")

	server := api.NewServer(cfg, app.store, app.worker, app.publisher)
	app.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	return app, nil
}

// Handler HTTP 入口（桌面壳和测试直接使用）
func (app *App) Handler() http.Handler {
	return app.server.Handler
}

// Addr 监听地址
func (app *App) Addr() string {
	return app.server.Addr
}

// Run 启动 HTTP 服务器，ctx 取消后优雅关闭
func (app *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("🚀 App Whisper 服务器启动在 http://%s", app.server.Addr)
		log.Printf("📝 配置信息:")
		log.Printf("   - 数据目录: %s", app.config.Paths.BaseDir)
		log.Printf("   - 模型目录: %s", app.config.Models.Dir)
		log.Printf("   - 归档: %s, 事件: %s", app.config.Archive.Type, app.config.Events.Type)

		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("服务器启动失败: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		app.close()
		return err
	case <-ctx.Done():
	}

	log.Println("🛑 正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  关闭 HTTP 服务器失败: %v", err)
	}

	app.close()
	log.Println("✓ 服务器已关闭")
	return nil
}

// close 停止 Worker，再关闭归档和事件通道
func (app *App) close() {
	app.worker.Stop(shutdownTimeout)
	if err := app.archive.Close(); err != nil {
		log.Printf("⚠️  关闭归档失败: %v", err)
	}
	if err := app.publisher.Close(); err != nil {
		log.Printf("⚠️  关闭事件通道失败: %v", err)
	}
}

// newArchive 根据配置选择归档方式（只写，不参与状态查询）
func newArchive(ctx context.Context, cfg config.ArchiveConfig) (storage.Archive, error) {
	switch cfg.Type {
	case "redis":
		ra, err := storage.NewRedisArchive(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
		if err != nil {
			return nil, err
		}
		log.Printf("✓ 使用 Redis 归档 (%s)", cfg.Redis.Addr)
		return storage.NewAsyncArchive(ra, 100), nil
	case "postgres":
		pa, err := storage.NewPostgresArchive(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		log.Println("✓ 使用 PostgreSQL 归档")
		return storage.NewAsyncArchive(pa, 100), nil
	default:
		return storage.NopArchive{}, nil
	}
}

// newPublisher 根据配置选择事件通道
func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Type {
	case "memory":
		mp := events.NewMemoryPublisher(cfg.BufferSize)
		go logEvents(mp.Events())
		log.Println("✓ 使用内存事件通道")
		return mp, nil
	case "rabbitmq":
		rp, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.QueueName)
		if err != nil {
			return nil, err
		}
		log.Printf("✓ 使用 RabbitMQ 事件通道 (%s)", cfg.RabbitMQ.QueueName)
		return rp, nil
	default:
		return events.NopPublisher{}, nil
	}
}

// logEvents 内存事件通道的消费者：写入进程日志
func logEvents(ch <-chan models.JobEvent) {
	for event := range ch {
		log.Printf("📝 事件 %s: 任务 %s (%s, %d/%d 完成, %d 失败)",
			event.Type, event.JobID, event.Status, event.FilesDone, event.FilesTotal, event.FilesFailed)
	}
}
