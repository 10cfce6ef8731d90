package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal 结束的任务数（按模式、最终状态）
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_whisper_jobs_total",
			Help: "Finished transcription jobs by mode and final status",
		},
		[]string{"mode", "status"},
	)

	// filesTotal 处理完成的文件数（按模式、状态）
	filesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_whisper_files_total",
			Help: "Processed files by mode and final status",
		},
		[]string{"mode", "status"},
	)

	// jobsRunning 正在运行的任务数
	jobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_whisper_jobs_running",
			Help: "Jobs currently being processed",
		},
	)

	// jobDuration 任务耗时
	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "app_whisper_job_duration_seconds",
			Help:    "Wall-clock duration of transcription jobs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"mode"},
	)
)
