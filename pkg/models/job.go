package models

import "time"

// JobStatus 任务状态
type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusRunning JobStatus = "running"
	StatusDone    JobStatus = "done"
	StatusError   JobStatus = "error"
)

// IsTerminal done 和 error 是终态
func (s JobStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

// FileStatus 单个文件的处理状态
type FileStatus string

const (
	FileQueued  FileStatus = "queued"
	FileRunning FileStatus = "running"
	FileDone    FileStatus = "done"
	FileError   FileStatus = "error"
)

// IsTerminal done 和 error 是终态
func (s FileStatus) IsTerminal() bool {
	return s == FileDone || s == FileError
}

// FileRecord 任务中的一个输入文件
type FileRecord struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Status   FileStatus `json:"status"`
	Progress float64    `json:"progress"`
	OutPath  *string    `json:"out_path"` // 主输出文件（衍生文档优先）
	Error    *string    `json:"error"`
}

// Job 转写任务
type Job struct {
	ID         string       `json:"id"`
	Status     JobStatus    `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	UseAPI     bool         `json:"use_api"`
	Model      string       `json:"model"`
	Lang       string       `json:"lang"`
	OutputType *string      `json:"output_type"`
	Progress   float64      `json:"progress"`
	Logs       []string     `json:"logs"`
	Files      []FileRecord `json:"files"`
}

// NewJob 创建处于 pending 状态的任务，所有文件为 queued
func NewJob(id string, useAPI bool, model, lang string, outputType *string, files []FileRecord) *Job {
	records := make([]FileRecord, len(files))
	for i, f := range files {
		records[i] = FileRecord{
			Name:   f.Name,
			Path:   f.Path,
			Status: FileQueued,
		}
	}

	return &Job{
		ID:         id,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		UseAPI:     useAPI,
		Model:      model,
		Lang:       lang,
		OutputType: cloneString(outputType),
		Logs:       []string{},
		Files:      records,
	}
}

// Clone 深拷贝，返回的快照与存储中的任务不共享任何可变数据
func (j *Job) Clone() Job {
	c := *j
	c.OutputType = cloneString(j.OutputType)

	c.Logs = make([]string, len(j.Logs))
	copy(c.Logs, j.Logs)

	c.Files = make([]FileRecord, len(j.Files))
	for i, f := range j.Files {
		f.OutPath = cloneString(f.OutPath)
		f.Error = cloneString(f.Error)
		c.Files[i] = f
	}

	return c
}

// CountFiles 统计各状态的文件数
func (j *Job) CountFiles(status FileStatus) int {
	n := 0
	for _, f := range j.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
