package provision

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// downloadsInProgress 正在下载的模型数
	downloadsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_whisper_model_downloads_in_progress",
			Help: "Model downloads currently running",
		},
	)

	// downloadedBytes 下载完成后模型目录的大小
	downloadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "app_whisper_model_downloaded_bytes_total",
			Help: "Size of model directories after successful downloads",
		},
	)
)
