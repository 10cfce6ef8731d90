package storage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 5 * time.Second
)

// AsyncArchive 异步批量归档：调用方只把快照放入队列，后台 Worker 攒批写入
// 队列满时同步写入，不丢数据
type AsyncArchive struct {
	sink          Archive
	syncQueue     chan models.Job
	stopCh        chan struct{}
	done          chan struct{}
	batchSize     int
	flushInterval time.Duration
	closeOnce     sync.Once
}

// NewAsyncArchive 创建异步归档并启动后台 Worker
func NewAsyncArchive(sink Archive, queueSize int) *AsyncArchive {
	return newAsyncArchive(sink, queueSize, defaultBatchSize, defaultFlushInterval)
}

func newAsyncArchive(sink Archive, queueSize, batchSize int, flushInterval time.Duration) *AsyncArchive {
	if queueSize <= 0 {
		queueSize = 100
	}

	a := &AsyncArchive{
		sink:          sink,
		syncQueue:     make(chan models.Job, queueSize),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}

	go a.syncWorker()

	return a
}

// Archive 放入同步队列
func (a *AsyncArchive) Archive(ctx context.Context, job models.Job) error {
	select {
	case <-a.stopCh:
		return a.sink.Archive(ctx, job)
	default:
	}

	select {
	case a.syncQueue <- job:
		return nil
	default:
		log.Printf("⚠️ 归档队列已满，同步写入")
		return a.sink.Archive(ctx, job)
	}
}

// syncWorker 后台同步 Worker，按数量或时间攒批
func (a *AsyncArchive) syncWorker() {
	defer close(a.done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]models.Job, 0, a.batchSize)

	for {
		select {
		case job := <-a.syncQueue:
			batch = append(batch, job)
			if len(batch) >= a.batchSize {
				a.batchSave(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.batchSave(batch)
				batch = batch[:0]
			}

		case <-a.stopCh:
			// 排空队列里剩下的快照
			for {
				select {
				case job := <-a.syncQueue:
					batch = append(batch, job)
				default:
					a.batchSave(batch)
					return
				}
			}
		}
	}
}

// batchSave 批量写入底层归档
func (a *AsyncArchive) batchSave(jobs []models.Job) {
	if len(jobs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	successCount := 0
	for _, job := range jobs {
		if err := a.sink.Archive(ctx, job); err != nil {
			log.Printf("❌ 归档任务失败: %s, 错误: %v", job.ID, err)
		} else {
			successCount++
		}
	}

	log.Printf("✓ 成功归档 %d/%d 个任务", successCount, len(jobs))
}

// Close 停止后台 Worker（最多等待 5 秒），然后关闭底层归档
func (a *AsyncArchive) Close() error {
	a.closeOnce.Do(func() {
		close(a.stopCh)
	})

	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
		log.Printf("⚠️ 等待归档队列清空超时")
	}

	return a.sink.Close()
}
