package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Romano-de-la-vega/app-whisper/pkg/config"
	"github.com/Romano-de-la-vega/app-whisper/pkg/events"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
)

// Dispatcher 接收新任务并在后台执行（worker.Worker 实现）
type Dispatcher interface {
	Dispatch(jobID, apiKey string)
}

// Server HTTP 接口层，依赖全部由外部注入
type Server struct {
	store          *storage.JobStore
	dispatcher     Dispatcher
	publisher      events.Publisher
	paths          config.PathsConfig
	maxUploadBytes int64
	cloudAvailable bool
}

// NewServer 创建 Server；publisher 为 nil 时不发送事件
func NewServer(cfg *config.Config, store *storage.JobStore, dispatcher Dispatcher, publisher events.Publisher) *Server {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Server{
		store:          store,
		dispatcher:     dispatcher,
		publisher:      publisher,
		paths:          cfg.Paths,
		maxUploadBytes: cfg.Server.MaxUploadBytes(),
		cloudAvailable: cfg.OpenAI.IsEnabled(),
	}
}

// Router 设置路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.CustomRecovery(recoveryHandler), metricsMiddleware())

	r.GET("/", s.handleIndex)
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/options", s.handleOptions)
		api.POST("/transcribe", s.handleTranscribe)
		api.GET("/status/:job_id", s.handleStatus)
		api.GET("/jobs/:job_id/card", s.handleJobCard)
		api.GET("/download/:job_id", s.handleDownloadZip)
		api.GET("/download-txt/:job_id", s.handleDownloadTxt)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return r
}
