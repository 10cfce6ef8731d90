package models

import "time"

// EventType 任务事件类型
type EventType string

const (
	EventJobCreated  EventType = "job.created"
	EventJobStarted  EventType = "job.started"
	EventJobFinished EventType = "job.finished"
)

// JobEvent 任务生命周期事件（对外通知用，不影响任务状态）
type JobEvent struct {
	Type        EventType `json:"type"`
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	UseAPI      bool      `json:"use_api"`
	Model       string    `json:"model"`
	Progress    float64   `json:"progress"`
	FilesTotal  int       `json:"files_total"`
	FilesDone   int       `json:"files_done"`
	FilesFailed int       `json:"files_failed"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewJobEvent 根据任务快照生成事件
func NewJobEvent(t EventType, job Job) JobEvent {
	return JobEvent{
		Type:        t,
		JobID:       job.ID,
		Status:      job.Status,
		UseAPI:      job.UseAPI,
		Model:       job.Model,
		Progress:    job.Progress,
		FilesTotal:  len(job.Files),
		FilesDone:   job.CountFiles(FileDone),
		FilesFailed: job.CountFiles(FileError),
		Timestamp:   time.Now(),
	}
}
