package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Romano-de-la-vega/app-whisper/pkg/events"
	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
	"github.com/Romano-de-la-vega/app-whisper/pkg/transcriber"
)

// Worker 任务执行器：每个任务一个 goroutine，创建后立即启动
// 没有队列，也没有并发上限
type Worker struct {
	store     *storage.JobStore
	local     transcriber.Backend
	cloud     transcriber.Backend // nil 表示云端不可用
	archive   storage.Archive
	publisher events.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker 创建 Worker；archive / publisher 为 nil 时不归档、不发事件
func NewWorker(
	store *storage.JobStore,
	local transcriber.Backend,
	cloud transcriber.Backend,
	archive storage.Archive,
	publisher events.Publisher,
) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if archive == nil {
		archive = storage.NopArchive{}
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Worker{
		store:     store,
		local:     local,
		cloud:     cloud,
		archive:   archive,
		publisher: publisher,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Dispatch 为任务启动独立的 goroutine（每个任务只能调用一次）
func (w *Worker) Dispatch(jobID, apiKey string) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processJob(jobID, apiKey)
	}()
}

// Stop 通知所有任务停止，最多等待 timeout
func (w *Worker) Stop(timeout time.Duration) {
	log.Println("正在停止 Worker...")
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✓ Worker 已停止")
	case <-time.After(timeout):
		log.Printf("⚠️ 等待任务结束超时 (%s)", timeout)
	}
}

// processJob 处理单个任务
func (w *Worker) processJob(jobID, apiKey string) {
	job, err := w.store.Snapshot(jobID)
	if err != nil {
		log.Printf("❌ 任务 %s 无法启动: %v", jobID, err)
		return
	}

	mode := "local"
	backend := w.local
	banner := fmt.Sprintf("Local mode (whisper.cpp) · model: %s · language: %s", job.Model, job.Lang)
	if job.UseAPI {
		mode = "api"
		backend = w.cloud
		banner = fmt.Sprintf("OpenAI API mode · model: %s · language: %s", job.Model, job.Lang)
	}

	tracker := transcriber.NewTracker(w.store, jobID)
	if err := w.store.SetStatus(jobID, models.StatusRunning); err != nil {
		log.Printf("❌ 任务 %s 无法进入 running: %v", jobID, err)
		return
	}
	tracker.Log(banner)

	log.Printf("📝 开始处理任务: %s (%s, %d 个文件)", jobID, mode, len(job.Files))
	jobsRunning.Inc()
	start := time.Now()
	w.publish(models.EventJobStarted, jobID)

	err = w.runBackend(backend, transcriber.Request{Job: job, APIKey: apiKey, Tracker: tracker})

	jobsRunning.Dec()
	elapsed := time.Since(start)
	jobDuration.WithLabelValues(mode).Observe(elapsed.Seconds())

	if err != nil {
		w.check(jobID, w.store.SetStatus(jobID, models.StatusError))
		tracker.Logf("[JOB ERROR] %v", err)
		log.Printf("❌ 任务 %s 失败: %v", jobID, err)
	} else {
		w.check(jobID, w.store.SetProgress(jobID, 1.0))
		w.check(jobID, w.store.SetStatus(jobID, models.StatusDone))
		tracker.Log("All files processed. Results are ready to download.")
		log.Printf("✓ 任务 %s 完成，耗时 %s", jobID, elapsed.Round(time.Millisecond))
	}

	w.finish(jobID, mode)
}

// runBackend 把后端的 panic 视为任务级错误
func (w *Worker) runBackend(backend transcriber.Backend, req transcriber.Request) (err error) {
	if backend == nil {
		return transcriber.ErrCloudUnavailable
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ 任务 %s 发生 panic: %v\n%s", req.Job.ID, r, debug.Stack())
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()

	return backend.TranscribeJob(w.ctx, req)
}

// finish 统计、归档、发布结束事件
func (w *Worker) finish(jobID, mode string) {
	final, err := w.store.Snapshot(jobID)
	if err != nil {
		log.Printf("⚠️ 读取任务 %s 失败: %v", jobID, err)
		return
	}

	jobsTotal.WithLabelValues(mode, string(final.Status)).Inc()
	for _, f := range final.Files {
		if f.Status.IsTerminal() {
			filesTotal.WithLabelValues(mode, string(f.Status)).Inc()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.archive.Archive(ctx, final); err != nil {
		log.Printf("⚠️ 归档任务 %s 失败: %v", jobID, err)
	}
	if err := w.publisher.Publish(ctx, models.NewJobEvent(models.EventJobFinished, final)); err != nil {
		log.Printf("⚠️ 发布任务事件失败: %v", err)
	}
}

func (w *Worker) publish(t models.EventType, jobID string) {
	job, err := w.store.Snapshot(jobID)
	if err != nil {
		return
	}
	if err := w.publisher.Publish(w.ctx, models.NewJobEvent(t, job)); err != nil {
		log.Printf("⚠️ 发布任务事件失败: %v", err)
	}
}

func (w *Worker) check(jobID string, err error) {
	if err != nil && !errors.Is(err, storage.ErrJobNotFound) {
		log.Printf("⚠️ 更新任务 %s 失败: %v", jobID, err)
	}
}
