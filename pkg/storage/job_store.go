package storage

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/Romano-de-la-vega/app-whisper/pkg/models"
)

var (
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("任务不存在")
	// ErrInvalidTransition 非法的状态转换（终态不可离开）
	ErrInvalidTransition = errors.New("非法的状态转换")
	// ErrFileIndex 文件序号越界
	ErrFileIndex = errors.New("文件序号越界")
)

// JobStore 任务注册表（内存实现）
// 所有读写都经过同一把锁，调用方永远拿不到内部任务的可变引用
type JobStore struct {
	jobs map[string]*models.Job
	mu   sync.Mutex
}

// NewJobStore 创建任务存储
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*models.Job),
	}
}

// Save 登记新任务（保存的是副本）
func (js *JobStore) Save(job *models.Job) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	if _, exists := js.jobs[job.ID]; exists {
		return fmt.Errorf("任务已存在: %s", job.ID)
	}

	c := job.Clone()
	js.jobs[job.ID] = &c
	return nil
}

// Snapshot 在锁内取一份一致的任务快照
func (js *JobStore) Snapshot(jobID string) (models.Job, error) {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return job.Clone(), nil
}

// List 列出所有任务快照（按创建时间倒序）
func (js *JobStore) List() []models.Job {
	js.mu.Lock()
	jobs := make([]models.Job, 0, len(js.jobs))
	for _, job := range js.jobs {
		jobs = append(jobs, job.Clone())
	}
	js.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// update 在锁内执行一次原子修改
func (js *JobStore) update(jobID string, updateFn func(*models.Job) error) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, exists := js.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	return updateFn(job)
}

// updateFile 在锁内修改某个文件记录
func (js *JobStore) updateFile(jobID string, idx int, updateFn func(*models.Job, *models.FileRecord) error) error {
	return js.update(jobID, func(job *models.Job) error {
		if idx < 0 || idx >= len(job.Files) {
			return fmt.Errorf("%w: %d (共 %d 个文件)", ErrFileIndex, idx, len(job.Files))
		}
		return updateFn(job, &job.Files[idx])
	})
}

// SetStatus 设置任务状态
func (js *JobStore) SetStatus(jobID string, status models.JobStatus) error {
	return js.update(jobID, func(job *models.Job) error {
		if job.Status == status {
			return nil
		}
		if !validJobTransition(job.Status, status) {
			return fmt.Errorf("%w: 任务 %s 从 %s 到 %s", ErrInvalidTransition, jobID, job.Status, status)
		}
		job.Status = status
		return nil
	})
}

// SetProgress 设置任务进度，超出 [0,1] 的值会被截断
func (js *JobStore) SetProgress(jobID string, progress float64) error {
	return js.update(jobID, func(job *models.Job) error {
		job.Progress = clamp01(progress)
		return nil
	})
}

// AppendLog 追加一行任务日志
func (js *JobStore) AppendLog(jobID, line string) error {
	return js.update(jobID, func(job *models.Job) error {
		job.Logs = append(job.Logs, line)
		return nil
	})
}

// SetFileStatus 设置文件状态；errMsg 非空时同时记录错误
func (js *JobStore) SetFileStatus(jobID string, idx int, status models.FileStatus, errMsg string) error {
	return js.updateFile(jobID, idx, func(job *models.Job, f *models.FileRecord) error {
		if f.Status != status && !validFileTransition(f.Status, status) {
			return fmt.Errorf("%w: 文件 %s 从 %s 到 %s", ErrInvalidTransition, f.Name, f.Status, status)
		}
		f.Status = status
		if errMsg != "" {
			f.Error = &errMsg
		}
		return nil
	})
}

// SetFileProgress 设置文件进度，超出 [0,1] 的值会被截断
func (js *JobStore) SetFileProgress(jobID string, idx int, progress float64) error {
	return js.updateFile(jobID, idx, func(job *models.Job, f *models.FileRecord) error {
		f.Progress = clamp01(progress)
		return nil
	})
}

// CompleteFile 一次性写入输出路径、完成进度和 done 状态
// 读者不会看到 done 但没有 out_path 的中间状态
func (js *JobStore) CompleteFile(jobID string, idx int, outPath string, jobProgress float64) error {
	return js.updateFile(jobID, idx, func(job *models.Job, f *models.FileRecord) error {
		if !validFileTransition(f.Status, models.FileDone) {
			return fmt.Errorf("%w: 文件 %s 从 %s 到 %s", ErrInvalidTransition, f.Name, f.Status, models.FileDone)
		}
		f.OutPath = &outPath
		f.Progress = 1
		f.Status = models.FileDone
		job.Progress = clamp01(jobProgress)
		return nil
	})
}

// validJobTransition pending → running → {done, error}
func validJobTransition(from, to models.JobStatus) bool {
	switch from {
	case models.StatusPending:
		return to == models.StatusRunning
	case models.StatusRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

// validFileTransition queued → running → {done, error}
func validFileTransition(from, to models.FileStatus) bool {
	switch from {
	case models.FileQueued:
		return to == models.FileRunning
	case models.FileRunning:
		return to.IsTerminal()
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
