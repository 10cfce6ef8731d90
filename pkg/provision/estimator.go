package provision

import (
	"io/fs"
	"log"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	stopJoinTimeout     = time.Second
)

// ProgressEstimator 通过轮询目录大小估算下载进度
// 只在整数百分比变化时上报，避免刷屏
type ProgressEstimator struct {
	dir         string
	approxTotal int64
	interval    time.Duration
	report      func(pct int, size int64)

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewProgressEstimator 创建估算器（尚未启动）
func NewProgressEstimator(dir string, approxTotal int64, interval time.Duration, report func(pct int, size int64)) *ProgressEstimator {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &ProgressEstimator{
		dir:         dir,
		approxTotal: approxTotal,
		interval:    interval,
		report:      report,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start 在独立的 goroutine 中开始轮询
func (e *ProgressEstimator) Start() {
	go e.run()
}

// Stop 发出停止信号并最多等待 1 秒
func (e *ProgressEstimator) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})

	select {
	case <-e.done:
	case <-time.After(stopJoinTimeout):
		log.Printf("⚠️ 下载进度监控未能在 %s 内退出", stopJoinTimeout)
	}
}

func (e *ProgressEstimator) run() {
	defer close(e.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️ 下载进度监控异常: %v", r)
		}
	}()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	last := -1
	for {
		size := DirSize(e.dir)
		pct := Percent(size, e.approxTotal)
		if pct != last {
			last = pct
			e.report(pct, size)
		}

		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// Percent clamp(size/total*100, 0, 100)
func Percent(size, total int64) int {
	if total < 1 {
		total = 1
	}
	pct := int(float64(size) / float64(total) * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// DirSize 目录下所有文件大小之和；读取失败按 0 计
func DirSize(dir string) int64 {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 下载过程中文件可能被重命名，跳过即可
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0
	}
	return total
}
