package transcriber

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
	"github.com/Romano-de-la-vega/app-whisper/pkg/storage"
)

var (
	// ErrMissingAPIKey 云端模式没有可用的 API Key
	ErrMissingAPIKey = errors.New("no API key provided (form field empty and OPENAI_API_KEY not set)")
	// ErrCloudUnavailable 云端模式被禁用
	ErrCloudUnavailable = errors.New("cloud transcription is not available")
)

// Request 一次任务调度
type Request struct {
	Job     models.Job
	APIKey  string // 仅云端模式使用
	Tracker *Tracker
}

// Backend 转写后端：逐个处理任务中的文件
// 单个文件失败只标记该文件，返回 error 表示整个任务失败
type Backend interface {
	TranscribeJob(ctx context.Context, req Request) error
}

// Tracker 把后端的进度、日志写回 JobStore
type Tracker struct {
	store *storage.JobStore
	jobID string
}

// NewTracker 创建 Tracker
func NewTracker(store *storage.JobStore, jobID string) *Tracker {
	return &Tracker{store: store, jobID: jobID}
}

// Log 追加一行任务日志
func (t *Tracker) Log(line string) {
	t.check(t.store.AppendLog(t.jobID, line))
}

// Logf 格式化后追加任务日志
func (t *Tracker) Logf(format string, args ...any) {
	t.Log(fmt.Sprintf(format, args...))
}

// JobProgress 更新任务进度
func (t *Tracker) JobProgress(p float64) {
	t.check(t.store.SetProgress(t.jobID, p))
}

// FileStarted 文件进入 running
func (t *Tracker) FileStarted(idx int) {
	t.check(t.store.SetFileStatus(t.jobID, idx, models.FileRunning, ""))
}

// FileProgress 更新文件进度
func (t *Tracker) FileProgress(idx int, p float64) {
	t.check(t.store.SetFileProgress(t.jobID, idx, p))
}

// FileCompleted 写入输出路径并标记完成
func (t *Tracker) FileCompleted(idx int, outPath string, jobProgress float64) {
	t.check(t.store.CompleteFile(t.jobID, idx, outPath, jobProgress))
}

// FileFailed 标记文件失败
func (t *Tracker) FileFailed(idx int, err error) {
	t.check(t.store.SetFileStatus(t.jobID, idx, models.FileError, err.Error()))
}

func (t *Tracker) check(err error) {
	if err != nil {
		log.Printf("⚠️ 更新任务 %s 失败: %v", t.jobID, err)
	}
}

// fileLabels 每种后端的日志前缀
type fileLabels struct {
	start string // "→ Local transcription: %s"
	done  string // "✓ Done (local): %s → %s"
	fail  string // "[Local error] %s: %v"
}

// fileFunc 处理单个文件，返回主输出文件路径
type fileFunc func(ctx context.Context, idx int, file models.FileRecord) (string, error)

// runFiles 按上传顺序逐个处理文件，单个文件失败不影响后续文件
func runFiles(ctx context.Context, req Request, labels fileLabels, fn fileFunc) {
	total := len(req.Job.Files)
	for idx, file := range req.Job.Files {
		req.Tracker.FileStarted(idx)
		req.Tracker.Logf(labels.start, file.Name)

		out, err := runFile(ctx, idx, file, fn)
		if err != nil {
			req.Tracker.FileFailed(idx, err)
			req.Tracker.Logf(labels.fail, file.Name, err)
			continue
		}

		req.Tracker.FileCompleted(idx, out, float64(idx+1)/float64(total))
		req.Tracker.Logf(labels.done, file.Name, out)
	}
}

// runFile 把 panic 转成该文件的错误
func runFile(ctx context.Context, idx int, file models.FileRecord, fn fileFunc) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()
	return fn(ctx, idx, file)
}

// TranscriptFileName <stem>_transcription.txt
func TranscriptFileName(name string) string {
	return fileStem(name) + "_transcription.txt"
}

// DocumentFileName <stem>_<output_type>.txt
func DocumentFileName(name, outputType string) string {
	return fileStem(name) + "_" + outputType + ".txt"
}

func fileStem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// writeText 写入文本文件，非空文本保证以换行结尾
func writeText(path, text string) error {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
