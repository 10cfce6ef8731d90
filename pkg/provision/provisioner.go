package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sync/singleflight"
)

// Fetcher 下载器不可用时的兜底：由转写引擎自己获取模型（无进度）
type Fetcher interface {
	FetchModel(ctx context.Context, name, dir string) error
}

// Provisioner 保证本地模型文件就绪
type Provisioner struct {
	root       string
	hubURL     string
	downloader Downloader // nil 表示下载器不可用
	fallback   Fetcher
	interval   time.Duration
	freeSpace  func(path string) (uint64, error)

	// 同一个模型同时只有一次获取在进行，其他任务等待其结果
	inflight singleflight.Group
}

// Option 可选配置
type Option func(*Provisioner)

// WithDownloader 设置下载器
func WithDownloader(d Downloader) Option {
	return func(p *Provisioner) { p.downloader = d }
}

// WithFallback 设置兜底获取方式
func WithFallback(f Fetcher) Option {
	return func(p *Provisioner) { p.fallback = f }
}

// WithPollInterval 设置进度轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(p *Provisioner) { p.interval = d }
}

// NewProvisioner 创建 Provisioner，模型保存在 root/<name>
func NewProvisioner(root, hubURL string, opts ...Option) *Provisioner {
	p := &Provisioner{
		root:      root,
		hubURL:    hubURL,
		interval:  defaultPollInterval,
		freeSpace: diskFree,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ModelDir 模型目录
func (p *Provisioner) ModelDir(name string) string {
	return filepath.Join(p.root, name)
}

// Ensure 确保模型存在，返回模型目录；进度通过 logf 写入任务日志
// 同一个模型的并发调用只获取一次，进度只写入发起获取的任务
func (p *Provisioner) Ensure(ctx context.Context, name string, logf func(string)) (string, error) {
	dir := p.ModelDir(name)

	leader := false
	v, err, _ := p.inflight.Do(name, func() (any, error) {
		leader = true
		return p.ensure(ctx, name, dir, logf)
	})
	if leader {
		return dir, err
	}

	// 等待了另一个任务的获取
	if err != nil {
		return dir, err
	}
	if fetched, _ := v.(bool); fetched {
		logf(fmt.Sprintf("Model '%s' was fetched by another job.", name))
	} else {
		logf(fmt.Sprintf("Model '%s' already present, skipping download.", name))
	}
	return dir, nil
}

// ensure 返回是否真的获取了模型
func (p *Provisioner) ensure(ctx context.Context, name, dir string, logf func(string)) (bool, error) {
	if hasModelFiles(dir) {
		logf(fmt.Sprintf("Model '%s' already present, skipping download.", name))
		return false, nil
	}

	logf(fmt.Sprintf("Checking model '%s'...", name))

	if p.downloader == nil {
		logf("[WARN] Downloader unavailable, the engine will fetch the model itself (no progress).")
		return true, p.fetchFallback(ctx, name, dir)
	}

	assets, err := Assets(p.hubURL, name)
	if errors.Is(err, ErrNoSource) {
		logf(fmt.Sprintf("[WARN] %v, the engine will fetch the model itself (no progress).", err))
		return true, p.fetchFallback(ctx, name, dir)
	}
	if err != nil {
		return false, err
	}

	approx := ApproxSize(name)
	logf(fmt.Sprintf("Downloading model '%s' (~%s)...", name, humanSize(approx)))
	p.checkDiskSpace(approx, logf)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return true, fmt.Errorf("创建模型目录失败: %w", err)
	}

	estimator := NewProgressEstimator(dir, approx, p.interval, func(pct int, size int64) {
		logf(fmt.Sprintf("Model download: %d%% (%s)", pct, humanSize(size)))
	})
	estimator.Start()
	downloadsInProgress.Inc()

	err = p.downloadAll(ctx, assets, dir)
	estimator.Stop()
	downloadsInProgress.Dec()
	if err != nil {
		return true, fmt.Errorf("下载模型 '%s' 失败: %w", name, err)
	}

	size := DirSize(dir)
	downloadedBytes.Add(float64(size))
	logf(fmt.Sprintf("Model download: 100%% (%s)", humanSize(size)))
	return true, nil
}

func (p *Provisioner) downloadAll(ctx context.Context, assets []Asset, dir string) error {
	for _, asset := range assets {
		if err := p.downloader.Download(ctx, asset, dir); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) fetchFallback(ctx context.Context, name, dir string) error {
	if p.fallback == nil {
		return fmt.Errorf("模型 '%s' 不存在且无法获取", name)
	}
	return p.fallback.FetchModel(ctx, name, dir)
}

// checkDiskSpace 剩余空间不足时只提示，不阻止下载
func (p *Provisioner) checkDiskSpace(need int64, logf func(string)) {
	if p.freeSpace == nil {
		return
	}
	free, err := p.freeSpace(p.root)
	if err != nil {
		return
	}
	if free < uint64(need) {
		logf(fmt.Sprintf("[WARN] Only %s of free disk space, the model needs about %s.",
			humanSize(int64(free)), humanSize(need)))
	}
}

// diskFree 查询 path 所在分区剩余空间；path 不存在时向上查找
func diskFree(path string) (uint64, error) {
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

func humanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return datasize.ByteSize(n).HumanReadable()
}
